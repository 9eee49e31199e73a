package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"romdl/internal/romdl"
)

// ErrUnsafePath is returned for an entry that would be written outside the
// destination directory.
var ErrUnsafePath = errors.New("archive: entry escapes destination")

// ZipExtractor implements romdl.Extractor for zip archives.
type ZipExtractor struct {
	// BufferSize is the copy buffer size. Default: 64KiB
	BufferSize int
}

// NewZipExtractor returns a ZipExtractor with default settings.
func NewZipExtractor() *ZipExtractor {
	return &ZipExtractor{BufferSize: 64 * 1024}
}

// Extract unpacks archivePath into destDir. Progress is the fraction of
// uncompressed bytes written. Events are emitted while a file is copied,
// each time another whole percent is written, and after every entry. When
// the archive declares no content, progress advances per entry instead.
func (x *ZipExtractor) Extract(ctx context.Context, archivePath, destDir string, onEvent func(romdl.ExtractEvent)) (string, error) {
	r, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		if r != nil {
			r.Close()
		}
		return "", fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if err != nil {
		return "", fmt.Errorf("opening archive: %w", err)
	}
	defer r.Close()

	var total uint64
	for _, f := range r.File {
		total += f.UncompressedSize64
	}

	bufSize := x.BufferSize
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	buf := make([]byte, bufSize)

	prog := &extractProgress{onEvent: onEvent, total: total}
	for i, f := range r.File {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		target, err := entryPath(destDir, f.Name)
		if err != nil {
			return "", err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return "", fmt.Errorf("creating %s: %w", f.Name, err)
			}
		} else {
			if err := writeEntry(ctx, f, target, buf, func(n int) { prog.add(n, target) }); err != nil {
				return "", err
			}
		}

		if total == 0 {
			prog.emit(float64(i+1)/float64(len(r.File)), target)
		} else {
			prog.emit(float64(prog.written)/float64(total), target)
		}
	}

	if onEvent != nil && len(r.File) == 0 {
		onEvent(romdl.ExtractEvent{Progress: 1})
	}
	return destDir, nil
}

func writeEntry(ctx context.Context, f *zip.File, target string, buf []byte, onWrite func(int)) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", f.Name, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", f.Name, err)
	}
	defer out.Close()

	if _, err := io.CopyBuffer(&countingWriter{w: out, onWrite: onWrite}, &ctxReader{ctx: ctx, r: rc}, buf); err != nil {
		return fmt.Errorf("extracting %s: %w", f.Name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", f.Name, err)
	}
	return nil
}

// entryPath resolves name under destDir, rejecting absolute paths and
// parent traversal.
func entryPath(destDir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(destDir, clean)
	rel, err := filepath.Rel(destDir, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

// extractProgress turns written bytes into ExtractEvents.
type extractProgress struct {
	onEvent  func(romdl.ExtractEvent)
	total    uint64
	written  uint64
	reported int // last whole percent sent while copying
}

func (p *extractProgress) add(n int, target string) {
	p.written += uint64(n)
	if p.onEvent == nil || p.total == 0 {
		return
	}
	if pct := int(p.written * 100 / p.total); pct > p.reported {
		p.reported = pct
		p.emit(float64(p.written)/float64(p.total), target)
	}
}

func (p *extractProgress) emit(progress float64, target string) {
	if p.onEvent != nil {
		p.onEvent(romdl.ExtractEvent{Progress: min(progress, 1), FilePath: target})
	}
}

// countingWriter reports every successful write.
type countingWriter struct {
	w       io.Writer
	onWrite func(int)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		c.onWrite(n)
	}
	return n, err
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ romdl.Extractor = (*ZipExtractor)(nil)
