package ui

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetWriter(&buf)
	t.Cleanup(func() { SetWriter(nil) })
	return &buf
}

func TestStatusLines(t *testing.T) {
	SetColorEnabled(false)

	tests := []struct {
		name string
		emit func()
		want string
	}{
		{"Step", func() { Step("Creating session %s", "t1") }, "==> Creating session t1\n"},
		{"Warn", func() { Warn("enable-event failed") }, "Warning: enable-event failed\n"},
		{"Warnf", func() { Warnf("%d events failed", 2) }, "Warning: 2 events failed\n"},
		{"Error", func() { Error("lttng not found") }, "Error: lttng not found\n"},
		{"Errorf", func() { Errorf("create %q: %s", "t1", "exists") }, "Error: create \"t1\": exists\n"},
		{"Info", func() { Info("trace written") }, "trace written\n"},
		{"Infof", func() { Infof("trace written to %s", "/tmp/out") }, "trace written to /tmp/out\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := capture(t)
			tt.emit()
			if got := buf.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStepColored(t *testing.T) {
	buf := capture(t)
	SetColorEnabled(true)
	defer SetColorEnabled(false)

	Step("Stopping session")
	want := "\033[1;34m==>\033[0m Stopping session\n"
	if got := buf.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestColorFunctions(t *testing.T) {
	fns := map[string]struct {
		fn   func(string) string
		code string
	}{
		"Bold":   {Bold, "1"},
		"Dim":    {Dim, "2"},
		"Green":  {Green, "32"},
		"Red":    {Red, "31"},
		"Yellow": {Yellow, "33"},
	}

	for name, f := range fns {
		t.Run(name, func(t *testing.T) {
			SetColorEnabled(true)
			if got, want := f.fn("x"), "\033["+f.code+"mx\033[0m"; got != want {
				t.Errorf("colored = %q, want %q", got, want)
			}
			SetColorEnabled(false)
			if got := f.fn("x"); got != "x" {
				t.Errorf("plain = %q, want %q", got, "x")
			}
		})
	}
}

func TestTagsNoColor(t *testing.T) {
	SetColorEnabled(false)
	if OKTag() != "✓" || FailTag() != "✗" || WarnTag() != "⚠" {
		t.Errorf("tags = %q %q %q", OKTag(), FailTag(), WarnTag())
	}
}

func TestNoColorEnv(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	f, err := os.CreateTemp(t.TempDir(), "ui-*")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if detectColor(f) {
		t.Error("detectColor should be false with NO_COLOR set")
	}
}

func TestProgress_NonTerminalSummary(t *testing.T) {
	buf := capture(t)
	SetColorEnabled(false)

	p := NewProgress("zlib-1.3.tar.gz", 2048)
	p.Write(make([]byte, 1024))
	p.Write(make([]byte, 1024))
	p.Finish()

	if p.Written() != 2048 {
		t.Errorf("Written = %d, want 2048", p.Written())
	}
	if got := buf.String(); got != "    zlib-1.3.tar.gz: 2.0 KiB\n" {
		t.Errorf("summary = %q", got)
	}
}

func TestProgress_Line(t *testing.T) {
	p := &Progress{label: "pkg", total: 100, width: 60}
	p.done = 50
	line := p.line()
	if !strings.Contains(line, "50%") {
		t.Errorf("line missing percentage: %q", line)
	}
	if !strings.Contains(line, "[") || !strings.Contains(line, "]") {
		t.Errorf("line missing bar: %q", line)
	}
	if len(line) > 60 {
		t.Errorf("line is %d columns, want <= 60", len(line))
	}

	unknown := &Progress{label: "pkg", width: 30}
	unknown.done = 10
	if got := unknown.line(); len(got) != 29 {
		t.Errorf("unknown-size line = %q (len %d), want padded to 29", got, len(got))
	}
}
