// Package registry caches per-layer analysis results keyed by content
// hashes, so unchanged functions skip re-analysis on rebuilds.
package registry

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/codetreehq/codetree/internal/store"
)

// Layer names, one per pipeline stage whose output can be reused.
const (
	LayerParse       = "parse"
	LayerResolve     = "resolve"
	LayerComponent   = "component"
	LayerDescription = "description"
)

// payloadVersion invalidates every cached payload when the stored shape
// changes.
const payloadVersion = 1

// LayerReuse selects which cached layers a build may reuse. The flags are
// hints: a cached entry that fails to decode is discarded regardless.
type LayerReuse struct {
	Parse       bool
	Resolve     bool
	Component   bool
	Description bool
}

// AllLayers enables reuse of every layer.
func AllLayers() LayerReuse {
	return LayerReuse{Parse: true, Resolve: true, Component: true, Description: true}
}

// Enabled reports whether a layer may be reused.
func (l LayerReuse) Enabled(layer string) bool {
	switch layer {
	case LayerParse:
		return l.Parse
	case LayerResolve:
		return l.Resolve
	case LayerComponent:
		return l.Component
	case LayerDescription:
		return l.Description
	}
	return false
}

// HashBytes returns the xxh3-128 hex digest of raw content.
func HashBytes(data []byte) string {
	sum := xxh3.Hash128(data).Bytes()
	return hex.EncodeToString(sum[:])
}

// HashString hashes a textual signature.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// RepoHash derives a repository identity from its file contents and entry
// points. Order of the inputs does not matter.
func RepoHash(fileHashes map[string]string, entryPoints []string) string {
	paths := make([]string, 0, len(fileHashes))
	for p := range fileHashes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	entries := make([]string, len(entryPoints))
	copy(entries, entryPoints)
	sort.Strings(entries)

	var b strings.Builder
	for _, p := range paths {
		b.WriteString(p)
		b.WriteByte('\x00')
		b.WriteString(fileHashes[p])
		b.WriteByte('\n')
	}
	b.WriteString(strings.Join(entries, "\x00"))
	return HashString(b.String())
}

// Cache reads and writes layer payloads through the store's registry table.
type Cache struct {
	store  *store.Store
	reuse  LayerReuse
	logger *slog.Logger
}

// NewCache wraps a store. A zero LayerReuse disables all reads; writes
// always happen so a later build can reuse them.
func NewCache(s *store.Store, reuse LayerReuse, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: s, reuse: reuse, logger: logger}
}

// Load decodes a cached payload into v. It returns false on a miss, a
// disabled layer, a version mismatch, or a payload that no longer decodes;
// stale entries are deleted on the way out.
func (c *Cache) Load(fileHash, sigHash, layer string, v any) bool {
	if !c.reuse.Enabled(layer) {
		return false
	}
	entry, err := c.store.GetRegistryEntry(fileHash, sigHash, layer)
	if err != nil {
		c.logger.Warn("registry.load.failed", "layer", layer, "error", err)
		return false
	}
	if entry == nil {
		return false
	}
	if entry.Version != payloadVersion {
		c.discard(fileHash, sigHash, layer, "version mismatch")
		return false
	}
	if err := json.Unmarshal([]byte(entry.Payload), v); err != nil {
		c.discard(fileHash, sigHash, layer, err.Error())
		return false
	}
	return true
}

// Save stores a payload for future builds.
func (c *Cache) Save(fileHash, sigHash, layer string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.store.PutRegistryEntry(&store.RegistryEntry{
		FileHash: fileHash,
		SigHash:  sigHash,
		Layer:    layer,
		Payload:  string(payload),
		Version:  payloadVersion,
	})
}

func (c *Cache) discard(fileHash, sigHash, layer, reason string) {
	c.logger.Warn("registry.entry.discarded", "layer", layer, "reason", reason)
	if err := c.store.DeleteRegistryEntry(fileHash, sigHash, layer); err != nil {
		c.logger.Warn("registry.discard.failed", "layer", layer, "error", err)
	}
}
