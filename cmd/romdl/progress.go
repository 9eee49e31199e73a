package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"romdl/internal/app"
	"romdl/internal/romdl"
)

// statusLine keeps a one-line summary of active downloads at the bottom of
// a terminal. Other output written through it is printed above the line.
// On anything but a terminal the summary is suppressed.
type statusLine struct {
	mu   sync.Mutex
	out  *os.File
	tty  bool
	line string
}

func newStatusLine(out *os.File) *statusLine {
	return &statusLine{out: out, tty: term.IsTerminal(int(out.Fd()))}
}

// Write prints p above the status line.
func (s *statusLine) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clear()
	n, err := s.out.Write(p)
	s.draw()
	return n, err
}

// Update redraws the summary from a queue snapshot.
func (s *statusLine) Update(items []romdl.DownloadItem) {
	if !s.tty {
		return
	}
	line := summarize(items, s.width())

	s.mu.Lock()
	defer s.mu.Unlock()
	if line == s.line {
		return
	}
	s.clear()
	s.line = line
	s.draw()
}

// Done removes the summary.
func (s *statusLine) Done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear()
	s.line = ""
}

func (s *statusLine) clear() {
	if s.tty && s.line != "" {
		io.WriteString(s.out, "\r\033[K")
	}
}

func (s *statusLine) draw() {
	if s.tty && s.line != "" {
		io.WriteString(s.out, s.line)
	}
}

func (s *statusLine) width() int {
	w, _, err := term.GetSize(int(s.out.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// summarize renders the active items of a snapshot, truncated to width.
func summarize(items []romdl.DownloadItem, width int) string {
	var parts []string
	for _, it := range items {
		if !it.Status.IsActive() || it.Status == romdl.StatusPending {
			continue
		}
		parts = append(parts, describe(it))
	}
	if len(parts) == 0 {
		return ""
	}
	line := strings.Join(parts, " | ")
	if width > 1 && len(line) > width-1 {
		line = line[:width-1]
	}
	return line
}

func describe(it romdl.DownloadItem) string {
	name := it.Descriptor.FileName
	switch it.Status {
	case romdl.StatusDownloading:
		s := fmt.Sprintf("%s %d%%", name, it.Progress)
		if it.Speed > 0 {
			s += fmt.Sprintf(" %s/s", app.FormatBytes(int64(it.Speed)))
		}
		if it.RemainingTime > 0 {
			s += " " + (time.Duration(it.RemainingTime) * time.Second).String() + " left"
		}
		return s
	default:
		return fmt.Sprintf("%s %s %d%%", name, it.Status, it.Progress)
	}
}
