package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
)

// ErrInputCancelled is returned when input is canceled by context.
var ErrInputCancelled = errors.New("input canceled")

// ErrInputClosed is returned when the input stream ends before a line was entered.
var ErrInputClosed = errors.New("input terminated")

type lineResult struct {
	err  error
	line string
}

// LineReader reads trimmed lines from a stream while honoring context cancellation. A
// single goroutine owns the underlying reader, so a read abandoned on cancellation is
// delivered to the next ReadLine instead of being lost.
type LineReader struct {
	lines       chan lineResult
	pending     chan struct{}
	outstanding bool
}

// NewLineReader starts reading from r.
func NewLineReader(r io.Reader) *LineReader {
	lr := &LineReader{
		lines:   make(chan lineResult),
		pending: make(chan struct{}, 1),
	}
	go lr.run(bufio.NewReader(r))
	return lr
}

func (lr *LineReader) run(r *bufio.Reader) {
	defer close(lr.lines)
	for range lr.pending {
		line, err := r.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				err = ErrInputClosed
			}
			lr.lines <- lineResult{err: err}
			return
		}
		lr.lines <- lineResult{line: strings.TrimSpace(line)}
	}
}

// ReadLine returns the next line without its trailing newline and surrounding spaces.
// It must not be called concurrently.
func (lr *LineReader) ReadLine(ctx context.Context) (string, error) {
	if !lr.outstanding {
		select {
		case lr.pending <- struct{}{}:
			lr.outstanding = true
		default:
		}
	}

	select {
	case <-ctx.Done():
		return "", ErrInputCancelled
	case res, ok := <-lr.lines:
		lr.outstanding = false
		if !ok {
			return "", ErrInputClosed
		}
		return res.line, res.err
	}
}
