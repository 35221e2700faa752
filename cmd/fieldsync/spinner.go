package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const spinnerDelay = 80 * time.Millisecond

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// spinner animates a progress line on a terminal while work runs.
type spinner struct {
	w       io.Writer
	message string
	stop    chan struct{}
	done    chan struct{}
}

func startSpinner(w io.Writer, message string) *spinner {
	s := &spinner{w: w, message: message, stop: make(chan struct{}), done: make(chan struct{})}
	if !isTTY() {
		fmt.Fprintf(w, "%s...\n", message)
		close(s.done)
		return s
	}

	go func() {
		defer close(s.done)
		style := lipgloss.NewStyle().Foreground(colorPrimary)
		ticker := time.NewTicker(spinnerDelay)
		defer ticker.Stop()
		for i := 0; ; i++ {
			fmt.Fprintf(s.w, "\r%s %s", style.Render(spinnerFrames[i%len(spinnerFrames)]), s.message)
			select {
			case <-s.stop:
				// Braille frames render about two columns wide.
				fmt.Fprint(s.w, "\r"+strings.Repeat(" ", len(s.message)+8)+"\r")
				return
			case <-ticker.C:
			}
		}
	}()
	return s
}

func (s *spinner) Stop() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.stop)
	<-s.done
}

// runWithSpinner runs operation while a spinner animates.
func runWithSpinner(w io.Writer, message string, operation func() error) error {
	spin := startSpinner(w, message)
	err := operation()
	spin.Stop()
	return err
}
