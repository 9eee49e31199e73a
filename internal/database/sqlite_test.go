package database

import (
	"path/filepath"
	"testing"
	"time"

	"romdl/internal/romdl"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// newTestStore creates a new in-memory store with schema applied.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(":memory:", fixedClock{time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestSQLiteStore_Settings(t *testing.T) {
	t.Run("get missing key", func(t *testing.T) {
		store := newTestStore(t)

		v, ok, err := store.Get("missing")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if ok || v != "" {
			t.Errorf("Get() = (%q, %v), want (\"\", false)", v, ok)
		}
	})

	t.Run("set then get", func(t *testing.T) {
		store := newTestStore(t)

		if err := store.Set("concurrent_downloads", "3"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		v, ok, err := store.Get("concurrent_downloads")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !ok || v != "3" {
			t.Errorf("Get() = (%q, %v), want (\"3\", true)", v, ok)
		}
	})

	t.Run("set overwrites", func(t *testing.T) {
		store := newTestStore(t)

		if err := store.Set("k", "one"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if err := store.Set("k", "two"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		v, _, _ := store.Get("k")
		if v != "two" {
			t.Errorf("Get() = %q, want %q", v, "two")
		}
	})

	t.Run("remove", func(t *testing.T) {
		store := newTestStore(t)

		if err := store.Set("k", "v"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if err := store.Remove("k"); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if _, ok, _ := store.Get("k"); ok {
			t.Error("key still present after Remove()")
		}
		if err := store.Remove("k"); err != nil {
			t.Errorf("Remove() of missing key error = %v", err)
		}
	})

	t.Run("keys sorted", func(t *testing.T) {
		store := newTestStore(t)

		for _, k := range []string{"b", "c", "a"} {
			if err := store.Set(k, "x"); err != nil {
				t.Fatalf("Set(%q) error = %v", k, err)
			}
		}
		keys, err := store.Keys()
		if err != nil {
			t.Fatalf("Keys() error = %v", err)
		}
		want := []string{"a", "b", "c"}
		if len(keys) != len(want) {
			t.Fatalf("Keys() = %v, want %v", keys, want)
		}
		for i := range want {
			if keys[i] != want[i] {
				t.Errorf("Keys()[%d] = %q, want %q", i, keys[i], want[i])
			}
		}
	})
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "romdl.db")

	store, err := NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := store.Set("folder_base", "file:///roms"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore() reopen error = %v", err)
	}
	defer reopened.Close()

	if err := reopened.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() error = %v", err)
	}
	st, err := reopened.SchemaState()
	if err != nil {
		t.Fatalf("SchemaState() error = %v", err)
	}
	if st.Version == 0 || st.Version != st.Latest {
		t.Errorf("SchemaState() = %+v, want version at latest", st)
	}
	v, ok, err := reopened.Get("folder_base")
	if err != nil || !ok || v != "file:///roms" {
		t.Errorf("Get() = (%q, %v, %v), want (\"file:///roms\", true, nil)", v, ok, err)
	}
}

func TestSQLiteStore_History(t *testing.T) {
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	t.Run("records and lists newest first", func(t *testing.T) {
		store := newTestStore(t)

		entries := []romdl.HistoryEntry{
			{DownloadID: "id-1", RomID: 1, FileName: "a.zip", FolderKey: "snes", Status: romdl.StatusCompleted, Bytes: 100, StartedAt: base, FinishedAt: base.Add(time.Minute)},
			{DownloadID: "id-2", RomID: 2, FileName: "b.sfc", FolderKey: "snes", Status: romdl.StatusFailed, Error: "download failed with status 500", FinishedAt: base.Add(2 * time.Minute)},
			{DownloadID: "id-3", RomID: 3, FileName: "c.gba", FolderKey: "gba", Status: romdl.StatusCancelled, FinishedAt: base.Add(3 * time.Minute)},
		}
		for _, e := range entries {
			if err := store.RecordDownload(e); err != nil {
				t.Fatalf("RecordDownload(%s) error = %v", e.DownloadID, err)
			}
		}

		got, err := store.History(0)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("len(History()) = %d, want 3", len(got))
		}
		if got[0].DownloadID != "id-3" || got[2].DownloadID != "id-1" {
			t.Errorf("History() order = %s,%s,%s, want id-3,id-2,id-1", got[0].DownloadID, got[1].DownloadID, got[2].DownloadID)
		}
		if got[1].Status != romdl.StatusFailed || got[1].Error != "download failed with status 500" {
			t.Errorf("History()[1] = %+v, want failed entry with error", got[1])
		}
		if !got[2].StartedAt.Equal(base) {
			t.Errorf("StartedAt = %v, want %v", got[2].StartedAt, base)
		}
		if !got[1].StartedAt.IsZero() {
			t.Errorf("StartedAt = %v, want zero for entry without start", got[1].StartedAt)
		}
		if got[2].Bytes != 100 {
			t.Errorf("Bytes = %d, want 100", got[2].Bytes)
		}
	})

	t.Run("limit", func(t *testing.T) {
		store := newTestStore(t)

		for i, id := range []string{"id-1", "id-2", "id-3"} {
			e := romdl.HistoryEntry{DownloadID: id, RomID: int64(i), FileName: "f", FolderKey: "k", Status: romdl.StatusCompleted, FinishedAt: base.Add(time.Duration(i) * time.Minute)}
			if err := store.RecordDownload(e); err != nil {
				t.Fatalf("RecordDownload() error = %v", err)
			}
		}

		got, err := store.History(2)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(got) != 2 {
			t.Errorf("len(History(2)) = %d, want 2", len(got))
		}
	})

	t.Run("prune", func(t *testing.T) {
		store := newTestStore(t)

		old := romdl.HistoryEntry{DownloadID: "old", FileName: "f", FolderKey: "k", Status: romdl.StatusCompleted, FinishedAt: base.Add(-48 * time.Hour)}
		recent := romdl.HistoryEntry{DownloadID: "recent", FileName: "f", FolderKey: "k", Status: romdl.StatusCompleted, FinishedAt: base}
		for _, e := range []romdl.HistoryEntry{old, recent} {
			if err := store.RecordDownload(e); err != nil {
				t.Fatalf("RecordDownload() error = %v", err)
			}
		}

		n, err := store.PruneHistory(base.Add(-24 * time.Hour))
		if err != nil {
			t.Fatalf("PruneHistory() error = %v", err)
		}
		if n != 1 {
			t.Errorf("PruneHistory() = %d, want 1", n)
		}
		got, _ := store.History(0)
		if len(got) != 1 || got[0].DownloadID != "recent" {
			t.Errorf("History() after prune = %+v, want only recent", got)
		}
	})
}
