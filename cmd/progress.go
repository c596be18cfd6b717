package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jacklau/quickgrade/internal/fetch"
)

// progressBar is a terminal progress bar over a batch of repositories. It
// is fed from concurrent pipeline workers.
type progressBar struct {
	mu          sync.Mutex
	total       int
	current     int
	failed      int
	width       int
	description string
	writer      io.Writer
}

// newProgressBar creates a new progress bar.
func newProgressBar(total int, description string, writer io.Writer) *progressBar {
	return &progressBar{
		total:       total,
		width:       30,
		description: description,
		writer:      writer,
	}
}

// Observe advances the bar when a repository reaches a final stage.
func (p *progressBar) Observe(ev fetch.Event) {
	switch ev.Stage {
	case fetch.StageDone:
		p.Add(1)
	case fetch.StageFailed:
		p.mu.Lock()
		p.failed++
		p.mu.Unlock()
		p.Add(1)
	}
}

// Add increments the progress bar by n.
func (p *progressBar) Add(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current += n
	if p.current > p.total {
		p.current = p.total
	}
	p.render()
}

// Finish completes the progress bar and prints a newline.
func (p *progressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = p.total
	p.render()
	fmt.Fprintln(p.writer)
}

// render draws the bar using a carriage return. Callers hold mu.
func (p *progressBar) render() {
	if p.total <= 0 {
		return
	}

	pct := float64(p.current) / float64(p.total)
	filled := int(pct * float64(p.width))
	if filled > p.width {
		filled = p.width
	}

	bar := strings.Repeat("=", filled) + strings.Repeat(" ", p.width-filled)
	fmt.Fprintf(p.writer, "\r%s [%s] %d/%d", p.description, bar, p.current, p.total)
	if p.failed > 0 {
		fmt.Fprintf(p.writer, " (%d failed)", p.failed)
	}
}
