package romdl_test

import (
	"bytes"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"romdl/internal/romdl"
	"romdl/internal/testutil"
)

const romURL = "http://romm.local/api/roms/1/content/game.sfc"

func newEngine(tr romdl.Transport) *romdl.TransferEngine {
	return romdl.NewTransferEngine(tr, testutil.FixedClock(), romdl.EngineOptions{})
}

func TestTransferEngine_Start(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		content := testutil.Payload(8 * 1024)
		tr := testutil.NewFakeTransport()
		tr.Serve(romURL, content)
		path := filepath.Join(t.TempDir(), "game.sfc.part")

		var last romdl.TransferProgress
		var chunks int
		h := newEngine(tr).Start(romURL, path, nil, func(p romdl.TransferProgress) {
			chunks++
			last = p
		})
		res := h.Wait()

		if !res.OK() {
			t.Fatalf("Wait() = %+v, want success", res)
		}
		if res.StatusCode != http.StatusOK {
			t.Errorf("StatusCode = %d, want 200", res.StatusCode)
		}
		if chunks != 8 {
			t.Errorf("progress called %d times, want 8", chunks)
		}
		if last.BytesWritten != int64(len(content)) || last.BytesExpected != int64(len(content)) {
			t.Errorf("last progress = %+v", last)
		}
		if h.Path() != path {
			t.Errorf("Path() = %q, want %q", h.Path(), path)
		}
		got, _ := os.ReadFile(path)
		if !bytes.Equal(got, content) {
			t.Error("file content does not match")
		}
	})

	t.Run("unexpected status", func(t *testing.T) {
		tr := testutil.NewFakeTransport()
		tr.FailWith(romURL, http.StatusInternalServerError)

		res := newEngine(tr).Start(romURL, filepath.Join(t.TempDir(), "x"), nil, nil).Wait()

		var te *romdl.TransferError
		if !errors.As(res.Err, &te) {
			t.Fatalf("Wait() error = %v, want *TransferError", res.Err)
		}
		if te.StatusCode != http.StatusInternalServerError {
			t.Errorf("StatusCode = %d, want 500", te.StatusCode)
		}
		if res.OK() {
			t.Error("OK() = true for failed transfer")
		}
	})

	t.Run("transport error", func(t *testing.T) {
		tr := testutil.NewFakeTransport()
		tr.ErrorWith(romURL, testutil.ErrConnectionReset)

		res := newEngine(tr).Start(romURL, filepath.Join(t.TempDir(), "x"), nil, nil).Wait()
		if !errors.Is(res.Err, testutil.ErrConnectionReset) {
			t.Errorf("Wait() error = %v, want ErrConnectionReset", res.Err)
		}
	})

	t.Run("partial content on first attempt is a failure", func(t *testing.T) {
		tr := testutil.NewFakeTransport()
		tr.FailWith(romURL, http.StatusPartialContent)

		res := newEngine(tr).Start(romURL, filepath.Join(t.TempDir(), "x"), nil, nil).Wait()
		var te *romdl.TransferError
		if !errors.As(res.Err, &te) || te.StatusCode != http.StatusPartialContent {
			t.Errorf("Wait() error = %v, want TransferError 206", res.Err)
		}
	})
}

func TestTransferEngine_PauseResume(t *testing.T) {
	content := testutil.Payload(16 * 1024)
	tr := testutil.NewFakeTransport()
	tr.Serve(romURL, content)
	reached, release := tr.BlockAt(romURL, 4096)
	defer release()

	path := filepath.Join(t.TempDir(), "game.sfc.part")
	e := newEngine(tr)
	h := e.Start(romURL, path, nil, nil)
	<-reached

	if err := e.Pause(h); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if res := h.Wait(); !res.Paused {
		t.Fatalf("Wait() = %+v, want paused", res)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() != 4096 {
		t.Fatalf("partial file = %v, %v; want 4096 bytes", info, err)
	}

	res := e.Resume(h)
	if !res.OK() {
		t.Fatalf("Resume() = %+v, want success", res)
	}
	if res.StatusCode != http.StatusPartialContent {
		t.Errorf("StatusCode = %d, want 206", res.StatusCode)
	}

	calls := tr.CallsFor(romURL)
	if len(calls) != 2 || calls[0].Offset != 0 || calls[1].Offset != 4096 {
		t.Errorf("calls = %+v, want offsets [0 4096]", calls)
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, content) {
		t.Error("resumed file does not match")
	}

	if err := e.Pause(h); !errors.Is(err, romdl.ErrTransferNotRunning) {
		t.Errorf("Pause() after completion error = %v, want ErrTransferNotRunning", err)
	}
}

func TestTransferEngine_ResumeWhenComplete(t *testing.T) {
	content := testutil.Payload(4096)
	tr := testutil.NewFakeTransport()
	tr.Serve(romURL, content)
	reached, release := tr.BlockAt(romURL, int64(len(content)))
	defer release()

	path := filepath.Join(t.TempDir(), "game.sfc.part")
	e := newEngine(tr)
	h := e.Start(romURL, path, nil, nil)
	<-reached
	if err := e.Pause(h); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}

	res := e.Resume(h)
	if !res.OK() || res.StatusCode != http.StatusPartialContent {
		t.Errorf("Resume() = %+v, want success with 206", res)
	}
	if n := len(tr.CallsFor(romURL)); n != 1 {
		t.Errorf("fetched %d times, want 1", n)
	}

	res = e.Resume(h)
	if !res.OK() {
		t.Errorf("second Resume() = %+v, want success", res)
	}
}

func TestTransferEngine_Cancel(t *testing.T) {
	tr := testutil.NewFakeTransport()
	tr.Serve(romURL, testutil.Payload(16*1024))
	reached, release := tr.BlockAt(romURL, 2048)
	defer release()

	path := filepath.Join(t.TempDir(), "game.sfc.part")
	e := newEngine(tr)
	h := e.Start(romURL, path, nil, nil)
	<-reached

	if err := e.Cancel(h); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if res := h.Wait(); !res.Cancelled {
		t.Errorf("Wait() = %+v, want cancelled", res)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("partial file still present, stat error = %v", err)
	}
	if res := e.Resume(h); !res.Cancelled {
		t.Errorf("Resume() after Cancel() = %+v, want cancelled", res)
	}
	if n := len(tr.CallsFor(romURL)); n != 1 {
		t.Errorf("fetched %d times, want 1", n)
	}
}

func TestTransferEngine_Speed(t *testing.T) {
	tr := testutil.NewFakeTransport()
	tr.Serve(romURL, testutil.Payload(4096))
	clock := testutil.FixedClock()
	e := romdl.NewTransferEngine(tr, clock, romdl.EngineOptions{SampleInterval: time.Second, SpeedWindow: 5})

	var progress []romdl.TransferProgress
	h := e.Start(romURL, filepath.Join(t.TempDir(), "x"), nil, func(p romdl.TransferProgress) {
		progress = append(progress, p)
		clock.Advance(time.Second)
	})
	if res := h.Wait(); !res.OK() {
		t.Fatalf("Wait() = %+v", res)
	}

	if len(progress) != 4 {
		t.Fatalf("got %d progress updates, want 4", len(progress))
	}
	if progress[0].Sampled || progress[0].Speed != 0 {
		t.Errorf("first update = %+v, want no sample yet", progress[0])
	}
	if !progress[1].Sampled || progress[1].Speed != 2048 {
		t.Errorf("second update speed = %v, want 2048", progress[1].Speed)
	}
	if progress[1].RemainingTime != 1 {
		t.Errorf("second update remaining = %v, want 1", progress[1].RemainingTime)
	}
	if progress[2].Speed != 1536 {
		t.Errorf("third update speed = %v, want 1536 (mean of 2048 and 1024)", progress[2].Speed)
	}
}
