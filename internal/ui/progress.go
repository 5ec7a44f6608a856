package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/majorcontext/kprof/internal/term"
)

const progressRedraw = 100 * time.Millisecond

// Progress counts bytes written through it and, when stderr is a terminal,
// redraws a single status line. Non-terminal output gets one summary line
// from Finish.
type Progress struct {
	label string
	total int64 // <= 0 when unknown

	mu    sync.Mutex
	out   io.Writer
	live  bool
	width int
	done  int64
	drawn time.Time
}

// NewProgress returns a progress writer for a transfer of total bytes.
func NewProgress(label string, total int64) *Progress {
	return &Progress{
		label: label,
		total: total,
		out:   writer,
		live:  stderrColor && term.IsTerminal(os.Stderr),
		width: term.Width(os.Stderr, 80),
	}
}

// Write implements io.Writer; it never fails.
func (p *Progress) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done += int64(len(b))
	if p.live && time.Since(p.drawn) >= progressRedraw {
		p.drawn = time.Now()
		fmt.Fprintf(p.out, "\r%s", p.line())
	}
	return len(b), nil
}

// Written returns the number of bytes seen so far.
func (p *Progress) Written() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Finish terminates the status line.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live {
		fmt.Fprintf(p.out, "\r%s\n", p.line())
		return
	}
	fmt.Fprintf(p.out, "    %s: %s\n", p.label, humanize.IBytes(uint64(p.done)))
}

func (p *Progress) line() string {
	counts := humanize.IBytes(uint64(p.done))
	if p.total <= 0 {
		return fit(fmt.Sprintf("    %s %s", p.label, counts), p.width)
	}

	pct := float64(p.done) / float64(p.total)
	if pct > 1 {
		pct = 1
	}
	head := fmt.Sprintf("    %s %s / %s ", p.label, counts, humanize.IBytes(uint64(p.total)))
	tail := fmt.Sprintf(" %3.0f%%", pct*100)

	barWidth := p.width - len(head) - len(tail) - 2
	if barWidth < 10 {
		return fit(head+tail, p.width)
	}
	filled := int(pct * float64(barWidth))
	bar := "[" + strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled) + "]"
	return head + bar + tail
}

// fit pads or trims s to exactly width-1 columns so a redraw overwrites the
// previous line without wrapping.
func fit(s string, width int) string {
	n := width - 1
	if n <= 0 {
		return s
	}
	if len(s) > n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}
