package history_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pagesnap/pagesnap/capture"
	"github.com/pagesnap/pagesnap/dbopen"
	"github.com/pagesnap/pagesnap/history"
	_ "modernc.org/sqlite" // register "sqlite" driver
)

func newStore(t *testing.T) *history.Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := history.ApplySchema(db); err != nil {
		t.Fatal(err)
	}
	s, err := history.NewStore(db, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCaptureLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.InsertCapture(ctx, "cap_1", "https://example.com", "full_page"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkRunning(ctx, "cap_1"); err != nil {
		t.Fatal(err)
	}

	img := []byte("\x89PNG fake image bytes")
	if err := s.FinishCapture(ctx, "cap_1", img, "image/png", 1600, 6000, 4, false, 3*time.Second); err != nil {
		t.Fatal(err)
	}

	c, err := s.GetCapture(ctx, "cap_1")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("capture not found")
	}
	if c.State != history.StateDone {
		t.Fatalf("state: got %q", c.State)
	}
	if c.Width != 1600 || c.Height != 6000 {
		t.Fatalf("dimensions: got %dx%d", c.Width, c.Height)
	}
	if c.Segments != 4 {
		t.Fatalf("segments: got %d", c.Segments)
	}
	if c.Bytes != len(img) {
		t.Fatalf("bytes: got %d, want %d", c.Bytes, len(img))
	}
	if c.DurationMs != 3000 {
		t.Fatalf("duration_ms: got %d", c.DurationMs)
	}
	if c.FinishedAt == nil {
		t.Fatal("finished_at not set")
	}

	data, mime, err := s.ReadImage(ctx, "cap_1")
	if err != nil {
		t.Fatal(err)
	}
	if mime != "image/png" {
		t.Fatalf("mime: got %q", mime)
	}
	if string(data) != string(img) {
		t.Fatal("blob round-trip mismatch")
	}
	if filepath.Ext(c.BlobPath) != ".png" {
		t.Fatalf("blob extension: got %q", c.BlobPath)
	}
}

func TestFailCapture(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.InsertCapture(ctx, "cap_1", "https://example.com", "area")
	if err := s.FailCapture(ctx, "cap_1", history.StateFailed, "segment 2 timed out", time.Second); err != nil {
		t.Fatal(err)
	}

	c, _ := s.GetCapture(ctx, "cap_1")
	if c.State != history.StateFailed {
		t.Fatalf("state: got %q", c.State)
	}
	if c.Error != "segment 2 timed out" {
		t.Fatalf("error: got %q", c.Error)
	}
}

func TestGetCapture_NotFound(t *testing.T) {
	s := newStore(t)
	c, err := s.GetCapture(context.Background(), "cap_missing")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Fatal("expected nil for missing capture")
	}
}

func TestListCaptures_NewestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.InsertCapture(ctx, "cap_1", "https://a.example", "full_page")
	time.Sleep(2 * time.Millisecond)
	s.InsertCapture(ctx, "cap_2", "https://b.example", "full_page")

	caps, err := s.ListCaptures(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(caps) != 2 {
		t.Fatalf("count: got %d", len(caps))
	}
	if caps[0].ID != "cap_2" {
		t.Fatalf("order: got %q first, want cap_2", caps[0].ID)
	}
}

func TestEvents(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.InsertCapture(ctx, "cap_1", "https://example.com", "full_page")
	for i, state := range []string{"preparing", "capturing", "composing", "complete"} {
		err := s.AppendEvent(ctx, history.Event{
			CaptureID: "cap_1", State: state, Segment: i, Total: 4,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	evs, err := s.ListEvents(ctx, "cap_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 4 {
		t.Fatalf("count: got %d", len(evs))
	}
	if evs[0].State != "preparing" || evs[3].State != "complete" {
		t.Fatalf("order: got %q ... %q", evs[0].State, evs[3].State)
	}
}

func TestPrune_RemovesRowsAndBlobs(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.InsertCapture(ctx, "cap_old", "https://example.com", "full_page")
	s.FinishCapture(ctx, "cap_old", []byte("blob"), "image/png", 10, 10, 1, false, time.Second)

	// Backdate the row past the retention window.
	old := time.Now().Add(-48 * time.Hour).UnixMilli()
	if _, err := s.DB.ExecContext(ctx, `UPDATE captures SET created_at = ? WHERE id = 'cap_old'`, old); err != nil {
		t.Fatal(err)
	}

	c, _ := s.GetCapture(ctx, "cap_old")
	blobPath := c.BlobPath

	n, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned: got %d, want 1", n)
	}
	if c, _ := s.GetCapture(ctx, "cap_old"); c != nil {
		t.Fatal("row should be gone")
	}
	if _, err := os.Stat(blobPath); !os.IsNotExist(err) {
		t.Fatal("blob should be gone")
	}
}

func TestSettings_RoundTripAndApply(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// Empty settings leave the config at engine defaults.
	st, err := s.LoadSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	base := capture.Config{SettleDelay: 123 * time.Millisecond}
	if got := st.Apply(base); got.SettleDelay != 123*time.Millisecond {
		t.Fatalf("empty settings must not touch config, got %v", got.SettleDelay)
	}

	want := history.Settings{
		Overlap:          32,
		SettleDelayMs:    500,
		MaxSegments:      10,
		JPEGQualities:    []int{80, 60},
		MaxOutputBytes:   4 << 20,
	}
	if err := s.SaveSettings(ctx, want); err != nil {
		t.Fatal(err)
	}

	st, err = s.LoadSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Overlap != 32 || st.SettleDelayMs != 500 || st.MaxSegments != 10 {
		t.Fatalf("round trip: got %+v", st)
	}

	cfg := st.Apply(capture.Config{})
	if cfg.Overlap != 32 {
		t.Fatalf("overlap: got %d", cfg.Overlap)
	}
	if cfg.SettleDelay != 500*time.Millisecond {
		t.Fatalf("settle delay: got %v", cfg.SettleDelay)
	}
	if len(cfg.JPEGQualities) != 2 || cfg.JPEGQualities[0] != 80 {
		t.Fatalf("qualities: got %v", cfg.JPEGQualities)
	}
	if cfg.MaxLogicalHeight != 0 {
		t.Fatalf("unset field must stay zero, got %d", cfg.MaxLogicalHeight)
	}
}
