// Package doctor provides diagnostic output for debugging kprof.
package doctor

import (
	"fmt"
	"io"

	"github.com/majorcontext/kprof/internal/ui"
)

// Section represents a diagnostic section that can be printed.
type Section interface {
	// Name returns the section name (e.g., "LTTng")
	Name() string

	// Print outputs the section's diagnostic information to the writer.
	// Returns an error if the section found a problem.
	Print(w io.Writer) error
}

// Registry holds all registered doctor sections.
type Registry struct {
	sections []Section
}

// NewRegistry creates a new doctor section registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a section to the registry.
func (r *Registry) Register(s Section) {
	r.sections = append(r.sections, s)
}

// Sections returns all registered sections.
func (r *Registry) Sections() []Section {
	return r.sections
}

// Run prints every section in registration order and returns how many
// reported a problem. A failing section does not stop the others.
func (r *Registry) Run(w io.Writer) int {
	failed := 0
	for _, section := range r.sections {
		fmt.Fprintln(w, ui.Bold(section.Name()))
		if err := section.Print(w); err != nil {
			fmt.Fprintf(w, "%s %v\n", ui.FailTag(), err)
			failed++
		}
		fmt.Fprintln(w)
	}
	return failed
}
