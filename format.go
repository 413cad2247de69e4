package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

func init() {
	// Redirected output (logs, CI, `| tee`) stays plain so it greps
	// cleanly; only an attached terminal gets color.
	color.NoColor = !isatty.IsTerminal(os.Stderr.Fd())
}

var (
	errColor  = color.New(color.FgRed, color.Bold)
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// statusErrf prints a status line in red when attached to a terminal.
func statusErrf(quiet bool, format string, args ...any) {
	if !quiet {
		errColor.Fprintf(os.Stderr, format, args...)
	}
}

// statusOkf prints a status line in green when attached to a terminal.
func statusOkf(quiet bool, format string, args ...any) {
	if !quiet {
		okColor.Fprintf(os.Stderr, format, args...)
	}
}

// statusWarnf prints a status line in yellow when attached to a terminal.
func statusWarnf(quiet bool, format string, args ...any) {
	if !quiet {
		warnColor.Fprintf(os.Stderr, format, args...)
	}
}

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	return humanize.Bytes(uint64(bytes))
}

// formatTime returns a relative, human-readable timestamp (e.g. "3
// minutes ago"), used in watch-mode pass summaries.
func formatTime(t time.Time) string {
	return humanize.Time(t)
}
