package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codetreehq/codetree/internal/store"
)

func TestSnapshotsEqual(t *testing.T) {
	now := time.Now()

	a := map[string]fileSnapshot{
		"main.go": {modTime: now, size: 100},
		"util.go": {modTime: now, size: 200},
	}
	b := map[string]fileSnapshot{
		"main.go": {modTime: now, size: 100},
		"util.go": {modTime: now, size: 200},
	}
	if !snapshotsEqual(a, b) {
		t.Error("identical snapshots should be equal")
	}

	// Different size
	c := map[string]fileSnapshot{
		"main.go": {modTime: now, size: 101},
		"util.go": {modTime: now, size: 200},
	}
	if snapshotsEqual(a, c) {
		t.Error("different size should not be equal")
	}

	// Different mtime
	d := map[string]fileSnapshot{
		"main.go": {modTime: now.Add(time.Second), size: 100},
		"util.go": {modTime: now, size: 200},
	}
	if snapshotsEqual(a, d) {
		t.Error("different mtime should not be equal")
	}

	// Missing file
	e := map[string]fileSnapshot{
		"main.go": {modTime: now, size: 100},
	}
	if snapshotsEqual(a, e) {
		t.Error("different file count should not be equal")
	}

	// Extra file
	f := map[string]fileSnapshot{
		"main.go": {modTime: now, size: 100},
		"util.go": {modTime: now, size: 200},
		"new.go":  {modTime: now, size: 50},
	}
	if snapshotsEqual(a, f) {
		t.Error("extra file should not be equal")
	}

	// Both empty
	if !snapshotsEqual(map[string]fileSnapshot{}, map[string]fileSnapshot{}) {
		t.Error("both empty should be equal")
	}
}

func TestPollInterval(t *testing.T) {
	tests := []struct {
		files    int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{70, 1 * time.Second},
		{499, 1 * time.Second},
		{500, 2 * time.Second},
		{2000, 5 * time.Second},
		{5000, 11 * time.Second},
		{10000, 21 * time.Second},
		{50000, 60 * time.Second},
		{100000, 60 * time.Second},
	}
	for _, tt := range tests {
		got := pollInterval(tt.files)
		if got != tt.expected {
			t.Errorf("pollInterval(%d) = %v, want %v", tt.files, got, tt.expected)
		}
	}
}

func TestCaptureSnapshot(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "main.py"), []byte("x = 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	snap, err := captureSnapshot(tmpDir)
	if err != nil {
		t.Fatal(err)
	}

	if len(snap) != 1 {
		t.Fatalf("expected 1 file, got %d", len(snap))
	}

	s, ok := snap["main.py"]
	if !ok {
		t.Fatal("expected main.py in snapshot")
	}
	if s.size == 0 {
		t.Error("expected non-zero size")
	}
	if s.modTime.IsZero() {
		t.Error("expected non-zero modtime")
	}
}

func TestCaptureSnapshotDetectsChanges(t *testing.T) {
	tmpDir := t.TempDir()
	srcFile := filepath.Join(tmpDir, "main.py")
	if err := os.WriteFile(srcFile, []byte("x = 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	snap1, err := captureSnapshot(tmpDir)
	if err != nil {
		t.Fatal(err)
	}

	// Ensure mtime advances (some filesystems have 1s granularity)
	time.Sleep(10 * time.Millisecond)
	now := time.Now().Add(time.Second)
	if err := os.Chtimes(srcFile, now, now); err != nil {
		t.Fatal(err)
	}

	snap2, err := captureSnapshot(tmpDir)
	if err != nil {
		t.Fatal(err)
	}

	if snapshotsEqual(snap1, snap2) {
		t.Error("snapshots should differ after mtime change")
	}
}

func registerRepo(t *testing.T, s *store.Store, hash, root string) {
	t.Helper()
	if err := s.UpsertRepository(&store.Repository{Hash: hash, Root: root}); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherTriggersOnChange(t *testing.T) {
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	tmpDir := t.TempDir()
	srcFile := filepath.Join(tmpDir, "main.py")
	if err := os.WriteFile(srcFile, []byte("x = 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	registerRepo(t, s, "abc123", tmpDir)

	var rebuildCount atomic.Int32
	w := New(s, func(_ context.Context, _, _ string) error {
		rebuildCount.Add(1)
		return nil
	})

	// First poll — baseline capture, no rebuild
	w.pollAll()
	if rebuildCount.Load() != 0 {
		t.Errorf("first poll should not trigger rebuild, got %d", rebuildCount.Load())
	}

	// Poll again without changes — no rebuild
	for _, state := range w.repos {
		state.nextPoll = time.Time{}
	}
	w.pollAll()
	if rebuildCount.Load() != 0 {
		t.Errorf("no-change poll should not trigger rebuild, got %d", rebuildCount.Load())
	}

	// Modify the file
	now := time.Now().Add(time.Second)
	if err := os.Chtimes(srcFile, now, now); err != nil {
		t.Fatal(err)
	}

	for _, state := range w.repos {
		state.nextPoll = time.Time{}
	}
	w.pollAll()
	if rebuildCount.Load() != 1 {
		t.Errorf("changed file should trigger rebuild, got %d", rebuildCount.Load())
	}
}

func TestWatcherCancellation(t *testing.T) {
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	w := New(s, func(_ context.Context, _, _ string) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
		// goroutine exited cleanly
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not stop after context cancellation")
	}
}

func TestWatcherSkipsMissingRoot(t *testing.T) {
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	registerRepo(t, s, "ghost", "/nonexistent/path")

	var rebuildCount atomic.Int32
	w := New(s, func(_ context.Context, _, _ string) error {
		rebuildCount.Add(1)
		return nil
	})

	w.pollAll()
	if rebuildCount.Load() != 0 {
		t.Errorf("should not rebuild missing root, got %d", rebuildCount.Load())
	}
}

func TestWatcherNewFileTriggersRebuild(t *testing.T) {
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "main.py"), []byte("x = 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	registerRepo(t, s, "def456", tmpDir)

	var rebuildCount atomic.Int32
	w := New(s, func(_ context.Context, _, _ string) error {
		rebuildCount.Add(1)
		return nil
	})

	// Baseline
	w.pollAll()

	// Add a new file
	if err := os.WriteFile(filepath.Join(tmpDir, "util.py"), []byte("y = 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	for _, state := range w.repos {
		state.nextPoll = time.Time{}
	}
	w.pollAll()
	if rebuildCount.Load() != 1 {
		t.Errorf("new file should trigger rebuild, got %d", rebuildCount.Load())
	}
}
