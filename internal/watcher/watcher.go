// Package watcher polls built repositories for file changes and triggers
// rebuilds.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/codetreehq/codetree/internal/discover"
	"github.com/codetreehq/codetree/internal/store"
)

const (
	baseInterval = 1 * time.Second
	maxInterval  = 60 * time.Second
)

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

type repoState struct {
	snapshot map[string]fileSnapshot
	interval time.Duration
	nextPoll time.Time
}

// RebuildFunc is the callback signature for triggering a rebuild.
type RebuildFunc func(ctx context.Context, repoHash, root string) error

// Watcher polls all built repositories for file changes and calls rebuildFn
// when a change is detected.
type Watcher struct {
	store     *store.Store
	rebuildFn RebuildFunc
	repos     map[string]*repoState
	ctx       context.Context
}

// New creates a Watcher. rebuildFn is called when file changes are detected.
func New(s *store.Store, rebuildFn RebuildFunc) *Watcher {
	return &Watcher{
		store:     s,
		rebuildFn: rebuildFn,
		repos:     make(map[string]*repoState),
	}
}

// Run blocks until ctx is cancelled. Ticks at baseInterval, polling each
// repository only when its adaptive interval has elapsed.
func (w *Watcher) Run(ctx context.Context) {
	w.ctx = ctx
	ticker := time.NewTicker(baseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollAll()
		}
	}
}

// pollAll lists all built repositories and polls each that is due.
func (w *Watcher) pollAll() {
	repos, err := w.store.ListRepositories()
	if err != nil {
		slog.Warn("watcher.list_repos", "err", err)
		return
	}

	now := time.Now()
	for _, repo := range repos {
		state, exists := w.repos[repo.Hash]
		if !exists {
			state = &repoState{}
			w.repos[repo.Hash] = state
		}

		if exists && now.Before(state.nextPoll) {
			continue // not due yet
		}

		w.pollRepo(repo, state)
	}
}

// pollRepo captures a snapshot of the file tree and compares with previous.
// First poll: captures baseline without triggering a rebuild.
// Subsequent polls: triggers rebuildFn if any file changed.
func (w *Watcher) pollRepo(repo *store.Repository, state *repoState) {
	if _, err := os.Stat(repo.Root); err != nil {
		slog.Warn("watcher.root_gone", "repo", repo.Hash, "path", repo.Root)
		state.nextPoll = time.Now().Add(maxInterval)
		return
	}

	snap, err := captureSnapshot(repo.Root)
	if err != nil {
		slog.Warn("watcher.snapshot", "repo", repo.Hash, "err", err)
		state.nextPoll = time.Now().Add(state.interval)
		return
	}

	interval := pollInterval(len(snap))

	if state.snapshot == nil {
		// First poll — capture baseline, no rebuild trigger
		slog.Debug("watcher.baseline", "repo", repo.Hash, "files", len(snap))
		state.snapshot = snap
		state.interval = interval
		state.nextPoll = time.Now().Add(interval)
		return
	}

	if snapshotsEqual(state.snapshot, snap) {
		state.interval = interval
		state.nextPoll = time.Now().Add(interval)
		return
	}

	slog.Info("watcher.changed", "repo", repo.Hash, "files", len(snap))
	if err := w.rebuildFn(w.ctx, repo.Hash, repo.Root); err != nil {
		slog.Warn("watcher.rebuild", "repo", repo.Hash, "err", err)
		// Keep old snapshot so we retry next cycle
		state.nextPoll = time.Now().Add(interval)
		return
	}

	// Successful rebuild — update snapshot and recalculate interval
	state.snapshot = snap
	state.interval = pollInterval(len(snap))
	state.nextPoll = time.Now().Add(state.interval)
}

// captureSnapshot walks the file tree using discover.Discover and captures
// mtime+size for each source file.
func captureSnapshot(root string) (map[string]fileSnapshot, error) {
	files, err := discover.Discover(context.Background(), root, nil)
	if err != nil {
		return nil, err
	}

	snap := make(map[string]fileSnapshot, len(files))
	for _, f := range files {
		info, statErr := os.Stat(f.Path)
		if statErr != nil {
			continue
		}
		snap[f.RelPath] = fileSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
		}
	}
	return snap, nil
}

// snapshotsEqual returns true if two snapshots have identical files with
// the same mtime+size.
func snapshotsEqual(a, b map[string]fileSnapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for path, aSnap := range a {
		bSnap, ok := b[path]
		if !ok {
			return false
		}
		if !aSnap.modTime.Equal(bSnap.modTime) || aSnap.size != bSnap.size {
			return false
		}
	}
	return true
}

// pollInterval computes the adaptive interval from file count.
// 1s base + 1s per 500 files, capped at 60s.
func pollInterval(fileCount int) time.Duration {
	ms := 1000 + (fileCount/500)*1000
	if ms > 60000 {
		ms = 60000
	}
	return time.Duration(ms) * time.Millisecond
}
