// Package id generates identifiers for kprof resources.
package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SessionPrefix starts every generated tracing session name.
const SessionPrefix = "kprof"

// Token returns 8 random hex characters.
func Token() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Generate creates an identifier of the form <prefix>_<8 hex chars>.
func Generate(prefix string) string {
	return prefix + "_" + Token()
}

// SessionName returns a tracing session name for the process pid,
// kprof-<pid>-<8 hex chars>. The random part keeps names distinct when a pid
// is reused.
func SessionName(pid int) string {
	return fmt.Sprintf("%s-%d-%s", SessionPrefix, pid, Token())
}
