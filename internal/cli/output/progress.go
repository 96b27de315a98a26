package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// ProgressBar renders done/total chunk progress on a single line.
type ProgressBar struct {
	w     io.Writer
	title string
	width int

	mu      sync.Mutex
	done    int
	total   int
	started bool
}

// NewProgressBar creates a new progress bar.
func NewProgressBar(w io.Writer, title string) *ProgressBar {
	return &ProgressBar{
		w:     w,
		title: title,
		width: 30,
	}
}

// Update sets the progress and redraws the line. It matches the progress
// callbacks of the backup and restore controllers.
func (p *ProgressBar) Update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done, p.total, p.started = done, total, true
	p.render()
}

// Finish ends the progress line. Nothing is written if Update was never
// called.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		fmt.Fprintln(p.w)
	}
}

func (p *ProgressBar) render() {
	if p.total <= 0 {
		fmt.Fprintf(p.w, "\r%s %d chunks", p.title, p.done)
		return
	}

	ratio := float64(p.done) / float64(p.total)
	if ratio > 1 {
		ratio = 1
	}
	filled := int(float64(p.width) * ratio)
	bar := strings.Repeat("#", filled) + strings.Repeat(".", p.width-filled)

	fmt.Fprintf(p.w, "\r%s [%s] %3.0f%% (%d/%d chunks)", p.title, bar, ratio*100, p.done, p.total)
}
