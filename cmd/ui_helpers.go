// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"fmt"
	"io"
	"sync"
	"time"

	"atomicgo.dev/cursor"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// inlineSpinner animates a single status line. The cursor is hidden while
// it runs.
type inlineSpinner struct {
	w    io.Writer
	mu   sync.Mutex
	text string
	stop chan struct{}
	wg   sync.WaitGroup
}

// startInlineSpinner starts animating text on w until the returned spinner is stopped.
func startInlineSpinner(w io.Writer, text string, interval time.Duration) *inlineSpinner {
	s := &inlineSpinner{w: w, text: text, stop: make(chan struct{})}
	cursor.Hide()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		width := 0
		for i := 0; ; i++ {
			s.mu.Lock()
			line := fmt.Sprintf("%s %s", spinnerFrames[i%len(spinnerFrames)], s.text)
			s.mu.Unlock()
			if len(line) > width {
				width = len(line)
			}
			select {
			case <-s.stop:
				// Clear the spinner line completely, then return
				fmt.Fprintf(w, "\r%*s\r", width, "")
				return
			case <-ticker.C:
				fmt.Fprintf(w, "\r%-*s", width, line)
			}
		}
	}()
	return s
}

// SetText replaces the status text.
func (s *inlineSpinner) SetText(text string) {
	s.mu.Lock()
	s.text = text
	s.mu.Unlock()
}

// Stop clears the line and restores the cursor.
func (s *inlineSpinner) Stop() {
	select {
	case <-s.stop:
		return
	default:
	}
	close(s.stop)
	s.wg.Wait()
	cursor.Show()
}
