package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeLocal(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "download.tmp")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestBlobStorage(t *testing.T) {
	ctx := context.Background()

	handles := map[string]func(t *testing.T) string{
		"mem": func(t *testing.T) string { return "mem://?prefix=roms/" },
		"file": func(t *testing.T) string {
			h, err := FileHandle(t.TempDir())
			if err != nil {
				t.Fatalf("FileHandle() error = %v", err)
			}
			return h
		},
	}

	for backend, newHandle := range handles {
		t.Run(backend, func(t *testing.T) {
			t.Run("move in then inspect", func(t *testing.T) {
				s := NewBlobStorage(S3Options{})
				defer s.Close()
				handle := newHandle(t)

				local := writeLocal(t, "rom-bytes")
				if err := s.MoveIn(ctx, handle, "game.sfc", local); err != nil {
					t.Fatalf("MoveIn() error = %v", err)
				}
				if _, err := os.Stat(local); !os.IsNotExist(err) {
					t.Errorf("local file still present after MoveIn(), stat error = %v", err)
				}

				ok, err := s.Exists(ctx, handle, "game.sfc")
				if err != nil || !ok {
					t.Errorf("Exists() = (%v, %v), want (true, nil)", ok, err)
				}
				size, err := s.Size(ctx, handle, "game.sfc")
				if err != nil || size != int64(len("rom-bytes")) {
					t.Errorf("Size() = (%d, %v), want (%d, nil)", size, err, len("rom-bytes"))
				}
				sum, err := s.Checksum(ctx, handle, "game.sfc")
				if err != nil || sum != md5Hex("rom-bytes") {
					t.Errorf("Checksum() = (%q, %v), want (%q, nil)", sum, err, md5Hex("rom-bytes"))
				}
			})

			t.Run("move in overwrites", func(t *testing.T) {
				s := NewBlobStorage(S3Options{})
				defer s.Close()
				handle := newHandle(t)

				if err := s.MoveIn(ctx, handle, "game.sfc", writeLocal(t, "old")); err != nil {
					t.Fatalf("MoveIn() error = %v", err)
				}
				if err := s.MoveIn(ctx, handle, "game.sfc", writeLocal(t, "newer")); err != nil {
					t.Fatalf("MoveIn() overwrite error = %v", err)
				}
				size, _ := s.Size(ctx, handle, "game.sfc")
				if size != 5 {
					t.Errorf("Size() = %d, want 5", size)
				}
			})

			t.Run("list shows direct children", func(t *testing.T) {
				s := NewBlobStorage(S3Options{})
				defer s.Close()
				handle := newHandle(t)

				for _, name := range []string{"a.gba", "b.gba", "sub/c.gba"} {
					if err := s.MoveIn(ctx, handle, name, writeLocal(t, name)); err != nil {
						t.Fatalf("MoveIn(%s) error = %v", name, err)
					}
				}

				entries, err := s.List(ctx, handle)
				if err != nil {
					t.Fatalf("List() error = %v", err)
				}
				sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
				if len(entries) != 3 {
					t.Fatalf("List() returned %d entries, want 3: %+v", len(entries), entries)
				}
				if entries[0].Name != "a.gba" || entries[0].IsDir {
					t.Errorf("entries[0] = %+v, want file a.gba", entries[0])
				}
				if entries[2].Name != "sub" || !entries[2].IsDir {
					t.Errorf("entries[2] = %+v, want dir sub", entries[2])
				}
			})

			t.Run("delete", func(t *testing.T) {
				s := NewBlobStorage(S3Options{})
				defer s.Close()
				handle := newHandle(t)

				if err := s.MoveIn(ctx, handle, "x.nes", writeLocal(t, "x")); err != nil {
					t.Fatalf("MoveIn() error = %v", err)
				}
				if err := s.Delete(ctx, handle, "x.nes"); err != nil {
					t.Fatalf("Delete() error = %v", err)
				}
				if ok, _ := s.Exists(ctx, handle, "x.nes"); ok {
					t.Error("entry still exists after Delete()")
				}
				if err := s.Delete(ctx, handle, "x.nes"); err != nil {
					t.Errorf("Delete() of missing entry error = %v", err)
				}
			})

			t.Run("create child", func(t *testing.T) {
				s := NewBlobStorage(S3Options{})
				defer s.Close()
				handle := newHandle(t)

				child, err := s.CreateChild(ctx, handle, "snes")
				if err != nil {
					t.Fatalf("CreateChild() error = %v", err)
				}
				if err := s.Probe(ctx, child); err != nil {
					t.Errorf("Probe(child) error = %v", err)
				}
				if got := s.DisplayName(child); got != "snes" {
					t.Errorf("DisplayName(child) = %q, want %q", got, "snes")
				}

				if err := s.MoveIn(ctx, child, "mario.sfc", writeLocal(t, "m")); err != nil {
					t.Fatalf("MoveIn(child) error = %v", err)
				}
				entries, err := s.List(ctx, handle)
				if err != nil {
					t.Fatalf("List(parent) error = %v", err)
				}
				found := false
				for _, e := range entries {
					if e.Name == "snes" && e.IsDir {
						found = true
					}
				}
				if !found {
					t.Errorf("List(parent) = %+v, want dir snes", entries)
				}
			})
		})
	}
}

func TestBlobStorage_SharedMemBucket(t *testing.T) {
	ctx := context.Background()
	s := NewBlobStorage(S3Options{})
	defer s.Close()

	if err := s.MoveIn(ctx, "mem://?prefix=gba/", "zelda.gba", writeLocal(t, "z")); err != nil {
		t.Fatalf("MoveIn() error = %v", err)
	}

	ok, err := s.Exists(ctx, "mem://", "gba/zelda.gba")
	if err != nil || !ok {
		t.Errorf("Exists() via root handle = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestBlobStorage_Probe(t *testing.T) {
	ctx := context.Background()

	t.Run("missing directory", func(t *testing.T) {
		s := NewBlobStorage(S3Options{})
		defer s.Close()

		handle, _ := FileHandle(filepath.Join(t.TempDir(), "gone"))
		if err := s.Probe(ctx, handle); err == nil {
			t.Error("Probe() expected error for missing directory")
		}
	})

	t.Run("directory removed after open", func(t *testing.T) {
		s := NewBlobStorage(S3Options{})
		defer s.Close()

		dir := filepath.Join(t.TempDir(), "roms")
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		handle, _ := FileHandle(dir)
		if err := s.Probe(ctx, handle); err != nil {
			t.Fatalf("Probe() error = %v", err)
		}
		if err := os.RemoveAll(dir); err != nil {
			t.Fatal(err)
		}
		if err := s.Probe(ctx, handle); err == nil {
			t.Error("Probe() expected error after directory removal")
		}
	})

	t.Run("invalid handle", func(t *testing.T) {
		s := NewBlobStorage(S3Options{})
		defer s.Close()

		if err := s.Probe(ctx, "no-scheme"); err == nil {
			t.Error("Probe() expected error for handle without scheme")
		}
	})
}

func TestBlobStorage_DisplayName(t *testing.T) {
	s := NewBlobStorage(S3Options{})

	tests := []struct {
		handle string
		want   string
	}{
		{"file:///home/user/roms/snes", "snes"},
		{"mem://?prefix=gba/", "gba"},
		{"s3://my-roms", "my-roms"},
		{"s3://my-roms?prefix=consoles/n64/", "n64"},
	}
	for _, tt := range tests {
		t.Run(tt.handle, func(t *testing.T) {
			if got := s.DisplayName(tt.handle); got != tt.want {
				t.Errorf("DisplayName(%q) = %q, want %q", tt.handle, got, tt.want)
			}
		})
	}
}

func TestBlobStorage_ChildHandle(t *testing.T) {
	s := NewBlobStorage(S3Options{})

	t.Run("file", func(t *testing.T) {
		got, err := s.ChildHandle("file:///roms", "psx")
		if err != nil {
			t.Fatalf("ChildHandle() error = %v", err)
		}
		if got != "file:///roms/psx" {
			t.Errorf("ChildHandle() = %q, want %q", got, "file:///roms/psx")
		}
	})

	t.Run("prefixed", func(t *testing.T) {
		got, err := s.ChildHandle("s3://bucket?prefix=roms/", "psx")
		if err != nil {
			t.Fatalf("ChildHandle() error = %v", err)
		}
		loc, err := parseHandle(got)
		if err != nil {
			t.Fatalf("parseHandle() error = %v", err)
		}
		if loc.prefix != "roms/psx/" {
			t.Errorf("prefix = %q, want %q", loc.prefix, "roms/psx/")
		}
	})

	t.Run("rejects traversal", func(t *testing.T) {
		if _, err := s.ChildHandle("file:///roms", "../etc"); err == nil {
			t.Error("ChildHandle() expected error for parent traversal")
		}
	})
}
