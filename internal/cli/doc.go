// Package cli provides helpers shared by the kprof and buildprograms
// command-line front ends: process exit codes and display formatting.
package cli
