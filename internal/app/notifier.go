package app

import (
	"fmt"
	"io"
	"sync"

	"romdl/internal/romdl"
)

// PrintNotifier writes download notices as plain lines, one per event.
type PrintNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrintNotifier returns a notifier writing to w.
func NewPrintNotifier(w io.Writer) *PrintNotifier {
	return &PrintNotifier{w: w}
}

func (n *PrintNotifier) DownloadStarted(item romdl.DownloadItem) {
	n.printf("Downloading %s\n", item.Descriptor.Label())
}

func (n *PrintNotifier) DownloadCompleted(item romdl.DownloadItem) {
	n.printf("Downloaded %s to %s (%s)\n", item.Descriptor.Label(), item.Destination.FolderKey, FormatBytes(item.TotalBytes))
}

func (n *PrintNotifier) DownloadFailed(item romdl.DownloadItem) {
	n.printf("Failed %s: %s\n", item.Descriptor.Label(), item.Error)
}

func (n *PrintNotifier) printf(format string, args ...any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.w, format, args...)
}

// FormatBytes renders n with a binary unit, e.g. "1.5 MiB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

var _ romdl.Notifier = (*PrintNotifier)(nil)
