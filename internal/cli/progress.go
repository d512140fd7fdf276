package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// Progress draws a terminal progress bar for a reapplication pass. The bar is created on
// the first update, once the total is known.
type Progress struct {
	writer      io.Writer
	bar         *progressbar.ProgressBar
	description string
	mu          sync.Mutex
}

// NewProgress creates a progress reporter writing to writer, or stderr if nil.
func NewProgress(writer io.Writer, description string) *Progress {
	if writer == nil {
		writer = os.Stderr
	}
	return &Progress{writer: writer, description: description}
}

// Update moves the bar to processed out of total. Its signature matches engine.ProgressFunc.
func (p *Progress) Update(processed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil {
		if total <= 0 {
			return
		}
		p.bar = p.newBar(total)
	}
	if err := p.bar.Set(processed); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

// Finish completes the bar if one was drawn.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil || p.bar.IsFinished() {
		return
	}
	if err := p.bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
}

func (p *Progress) newBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]"+p.description+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(p.writer); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}
