// Package qa indexes function documentation for question answering. The
// baseline ranker is keyword tf-idf over the composed docs; when an Embedder
// is configured, vectors are stored alongside and used for ranking instead.
package qa

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/codetreehq/codetree/internal/store"
)

// Embedder turns texts into fixed-size vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ComposeDoc builds the indexable text for one function.
func ComposeDoc(fullName, short, inputOutput, source string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Function: %s\n", fullName)
	if short != "" {
		fmt.Fprintf(&b, "Description: %s\n", short)
	}
	if inputOutput != "" {
		fmt.Fprintf(&b, "Input/Output: %s\n", inputOutput)
	}
	b.WriteString("Code:\n")
	b.WriteString(source)
	return b.String()
}

// Indexer writes and queries the qa_docs table.
type Indexer struct {
	Store    *store.Store
	Embedder Embedder // optional
	Logger   *slog.Logger
}

func (ix *Indexer) logger() *slog.Logger {
	if ix.Logger != nil {
		return ix.Logger
	}
	return slog.Default()
}

// Index replaces the repository's docs. With an Embedder configured the
// docs are embedded first; an embedding failure degrades to keyword-only
// search instead of failing the build.
func (ix *Indexer) Index(ctx context.Context, repo string, docs []*store.QADoc) error {
	if ix.Embedder != nil && len(docs) > 0 {
		texts := make([]string, len(docs))
		for i, d := range docs {
			texts[i] = d.Content
		}
		vecs, err := ix.Embedder.Embed(ctx, texts)
		if err != nil {
			ix.logger().Warn("qa.embed.failed", "error", err, "docs", len(docs))
		} else if len(vecs) == len(docs) {
			for i := range docs {
				docs[i].Embedding = EncodeVector(vecs[i])
			}
		}
	}
	return ix.Store.ReplaceQADocs(repo, docs)
}

// Result is one ranked answer candidate.
type Result struct {
	FunctionID int64
	Score      float64
	Content    string
}

// Search ranks the repository's docs against a query. Embedding search is
// used when both the query side and the stored docs have vectors.
func (ix *Indexer) Search(ctx context.Context, repo, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 5
	}
	docs, err := ix.Store.QADocs(repo)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	if ix.Embedder != nil && hasEmbeddings(docs) {
		if results, ok := ix.vectorSearch(ctx, query, docs, limit); ok {
			return results, nil
		}
	}
	return keywordSearch(query, docs, limit), nil
}

func hasEmbeddings(docs []*store.QADoc) bool {
	for _, d := range docs {
		if len(d.Embedding) == 0 {
			return false
		}
	}
	return true
}

func (ix *Indexer) vectorSearch(ctx context.Context, query string, docs []*store.QADoc, limit int) ([]Result, bool) {
	vecs, err := ix.Embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		ix.logger().Warn("qa.query_embed.failed", "error", err)
		return nil, false
	}
	q := vecs[0]

	results := make([]Result, 0, len(docs))
	for _, d := range docs {
		score := cosine(q, DecodeVector(d.Embedding))
		results = append(results, Result{FunctionID: d.FunctionID, Score: score, Content: d.Content})
	}
	sortResults(results)
	return clip(results, limit), true
}

// keywordSearch scores docs with tf-idf over whitespace-and-symbol tokens.
func keywordSearch(query string, docs []*store.QADoc, limit int) []Result {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	df := map[string]int{}
	tokenized := make([]map[string]int, len(docs))
	for i, d := range docs {
		tf := map[string]int{}
		for _, tok := range tokenize(d.Content) {
			tf[tok]++
		}
		tokenized[i] = tf
		for _, term := range terms {
			if tf[term] > 0 {
				df[term]++
			}
		}
	}

	var results []Result
	n := float64(len(docs))
	for i, d := range docs {
		score := 0.0
		for _, term := range terms {
			tf := tokenized[i][term]
			if tf == 0 {
				continue
			}
			idf := math.Log(1 + n/float64(df[term]))
			score += float64(tf) * idf
		}
		if score > 0 {
			results = append(results, Result{FunctionID: d.FunctionID, Score: score, Content: d.Content})
		}
	}
	sortResults(results)
	return clip(results, limit)
}

func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].FunctionID < results[j].FunctionID
	})
}

func clip(results []Result, limit int) []Result {
	if len(results) > limit {
		return results[:limit]
	}
	return results
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "is": true, "in": true,
	"of": true, "to": true, "for": true, "on": true, "with": true, "what": true,
	"how": true, "does": true, "do": true, "where": true, "which": true,
}

// tokenize lowercases and splits on anything that is not a letter or digit,
// dropping stopwords and single characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// EncodeVector packs a float32 vector into little-endian bytes for storage.
func EncodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
