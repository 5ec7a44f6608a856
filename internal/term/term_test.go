package term

import (
	"os"
	"testing"
)

func TestRegularFileIsNotTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "term-*")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if IsTerminal(f) {
		t.Error("regular file reported as terminal")
	}
	if got := Width(f, 72); got != 72 {
		t.Errorf("Width = %d, want fallback 72", got)
	}
}

func TestNilFile(t *testing.T) {
	if IsTerminal(nil) {
		t.Error("nil file reported as terminal")
	}
	if got := Width(nil, 80); got != 80 {
		t.Errorf("Width(nil) = %d, want 80", got)
	}
}
