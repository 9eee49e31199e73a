package testutil

import (
	"archive/zip"
	"bytes"
	"os"
	"testing"
)

// ZipEntry is one file in a zip fixture. A Name ending in "/" is a
// directory entry.
type ZipEntry struct {
	Name string
	Data []byte
}

// ZipBytes builds a zip archive in memory.
func ZipBytes(t *testing.T, entries ...ZipEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			t.Fatalf("zip create %s: %v", e.Name, err)
		}
		if len(e.Data) > 0 {
			if _, err := w.Write(e.Data); err != nil {
				t.Fatalf("zip write %s: %v", e.Name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// WriteZip writes a zip archive to path.
func WriteZip(t *testing.T, path string, entries ...ZipEntry) {
	t.Helper()
	if err := os.WriteFile(path, ZipBytes(t, entries...), 0644); err != nil {
		t.Fatalf("writing zip %s: %v", path, err)
	}
}
