// Package describe generates natural-language descriptions and component
// layouts for functions through a chat-completions endpoint. Description
// failures never fail a build; functions fall back to empty descriptions.
package describe

import (
	"context"
	"log/slog"

	"github.com/codetreehq/codetree/internal/analyze"
)

// ComponentDescription is one described line range, relative to the
// function (definition line = 1).
type ComponentDescription struct {
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Short     string `json:"short_description"`
	Long      string `json:"long_description"`
}

// FunctionDescription is the generated documentation for one function.
type FunctionDescription struct {
	FullName    string                 `json:"full_name"`
	Short       string                 `json:"short_description"`
	InputOutput string                 `json:"input_output_description"`
	Long        string                 `json:"long_description"`
	Components  []ComponentDescription `json:"components"`
}

// BatchRequest asks for descriptions of a group of functions. NamesOnly
// drops source bodies from the prompt when the batch payload is too large.
type BatchRequest struct {
	Functions []*analyze.FunctionDecl
	NamesOnly bool
}

// Describer produces descriptions for a batch of functions.
type Describer interface {
	DescribeBatch(ctx context.Context, req BatchRequest) ([]FunctionDescription, error)
}

const (
	defaultBatchSize  = 8
	defaultMaxPayload = 48 * 1024
)

// Runner drives a Describer over the full function list in batches.
type Runner struct {
	Describer  Describer
	BatchSize  int
	MaxPayload int // bytes of source above which a batch degrades to names only
	Logger     *slog.Logger
}

// Run describes every function and returns the results keyed by full name.
// A batch that fails is logged and its functions are left undescribed.
func (r *Runner) Run(ctx context.Context, fns []*analyze.FunctionDecl) (map[string]FunctionDescription, error) {
	batchSize := r.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	maxPayload := r.MaxPayload
	if maxPayload <= 0 {
		maxPayload = defaultMaxPayload
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	out := make(map[string]FunctionDescription, len(fns))
	for start := 0; start < len(fns); start += batchSize {
		end := start + batchSize
		if end > len(fns) {
			end = len(fns)
		}
		batch := fns[start:end]
		if err := ctx.Err(); err != nil {
			return out, err
		}

		payload := 0
		for _, d := range batch {
			payload += len(d.Source())
		}
		req := BatchRequest{Functions: batch, NamesOnly: payload > maxPayload}
		if req.NamesOnly {
			logger.Warn("describe.batch.names_only", "payload_bytes", payload, "functions", len(batch))
		}

		descs, err := r.Describer.DescribeBatch(ctx, req)
		if err != nil {
			logger.Warn("describe.batch.failed", "error", err, "from", batch[0].FullName(), "functions", len(batch))
			continue
		}
		byName := make(map[string]FunctionDescription, len(descs))
		for _, desc := range descs {
			byName[desc.FullName] = desc
		}
		for _, d := range batch {
			if desc, ok := byName[d.FullName()]; ok {
				out[d.FullName()] = desc
			}
		}
	}
	return out, nil
}
