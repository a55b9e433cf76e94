package registry

import (
	"testing"

	"github.com/codetreehq/codetree/internal/store"
)

func TestHashDeterminism(t *testing.T) {
	a := HashBytes([]byte("def f():\n    pass"))
	b := HashBytes([]byte("def f():\n    pass"))
	if a != b {
		t.Fatalf("hashes differ: %s vs %s", a, b)
	}
	if a == HashBytes([]byte("def f():\n    return 1")) {
		t.Fatal("different content hashed equal")
	}
	if len(a) != 32 {
		t.Fatalf("digest length = %d", len(a))
	}
}

func TestRepoHashOrderIndependent(t *testing.T) {
	h1 := RepoHash(map[string]string{"a.py": "h1", "b.py": "h2"}, []string{"a.py:main", "b.py:run"})
	h2 := RepoHash(map[string]string{"b.py": "h2", "a.py": "h1"}, []string{"b.py:run", "a.py:main"})
	if h1 != h2 {
		t.Fatal("repo hash depends on input order")
	}
	h3 := RepoHash(map[string]string{"a.py": "h1", "b.py": "h2"}, []string{"a.py:main"})
	if h1 == h3 {
		t.Fatal("entry points must affect the repo hash")
	}
}

func TestLayerReuse(t *testing.T) {
	all := AllLayers()
	for _, layer := range []string{LayerParse, LayerResolve, LayerComponent, LayerDescription} {
		if !all.Enabled(layer) {
			t.Fatalf("layer %s disabled", layer)
		}
	}
	none := LayerReuse{}
	if none.Enabled(LayerParse) {
		t.Fatal("zero value should disable reuse")
	}
	if all.Enabled("bogus") {
		t.Fatal("unknown layer enabled")
	}
}

type descPayload struct {
	Short string `json:"short"`
	Long  string `json:"long"`
}

func TestCacheRoundTrip(t *testing.T) {
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	c := NewCache(s, AllLayers(), nil)
	in := descPayload{Short: "adds numbers", Long: "adds a and b"}
	if err := c.Save("fh", "sh", LayerDescription, in); err != nil {
		t.Fatal(err)
	}

	var out descPayload
	if !c.Load("fh", "sh", LayerDescription, &out) {
		t.Fatal("expected a hit")
	}
	if out != in {
		t.Fatalf("payload = %+v, want %+v", out, in)
	}

	if c.Load("fh", "other", LayerDescription, &out) {
		t.Fatal("expected a miss for a different signature")
	}
}

func TestCacheDisabledLayer(t *testing.T) {
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	c := NewCache(s, LayerReuse{}, nil)
	if err := c.Save("fh", "sh", LayerParse, descPayload{Short: "x"}); err != nil {
		t.Fatal(err)
	}
	var out descPayload
	if c.Load("fh", "sh", LayerParse, &out) {
		t.Fatal("disabled layer must not be read")
	}

	// the write is still there for a build that enables reuse
	c2 := NewCache(s, AllLayers(), nil)
	if !c2.Load("fh", "sh", LayerParse, &out) {
		t.Fatal("payload should survive for later builds")
	}
}

func TestCacheDiscardsCorruptPayload(t *testing.T) {
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.PutRegistryEntry(&store.RegistryEntry{
		FileHash: "fh", SigHash: "sh", Layer: LayerDescription,
		Payload: "{not json", Version: payloadVersion,
	}); err != nil {
		t.Fatal(err)
	}

	c := NewCache(s, AllLayers(), nil)
	var out descPayload
	if c.Load("fh", "sh", LayerDescription, &out) {
		t.Fatal("corrupt payload reported as a hit")
	}

	// the entry is gone afterwards
	entry, err := s.GetRegistryEntry("fh", "sh", LayerDescription)
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Fatal("corrupt entry was not discarded")
	}
}

func TestCacheVersionMismatch(t *testing.T) {
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.PutRegistryEntry(&store.RegistryEntry{
		FileHash: "fh", SigHash: "sh", Layer: LayerParse,
		Payload: `{"short": "old"}`, Version: payloadVersion + 1,
	}); err != nil {
		t.Fatal(err)
	}

	c := NewCache(s, AllLayers(), nil)
	var out descPayload
	if c.Load("fh", "sh", LayerParse, &out) {
		t.Fatal("mismatched version reported as a hit")
	}
}
