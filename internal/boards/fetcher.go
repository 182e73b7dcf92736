package boards

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"boards-wiql/internal/api"
	"boards-wiql/internal/output"
)

const (
	// MaxBatchSize is the remote limit of ids per workitemsbatch call, minus one.
	MaxBatchSize = 199
	expandAll    = "All"
)

var tracer trace.Tracer = otel.Tracer("boards-wiql/internal/boards")

// WorkItemSource is the read side of the remote client.
type WorkItemSource interface {
	Wiql(ctx context.Context, query string, top int) (api.WiqlResponse, error)
	GetWorkItemsBatch(ctx context.Context, ids []int, fields []string, expand string) ([]api.WorkItem, error)
}

type Format string

const (
	FormatTable Format = "table"
	FormatText  Format = "text"
)

type Fetcher struct {
	log         *zap.Logger
	concurrency int
	projector   output.Projector
}

// NewFetcher builds a fetcher. Without richTextFields only the default
// rich-text fields are reduced to plain text.
func NewFetcher(log *zap.Logger, concurrency int, richTextFields ...string) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if len(richTextFields) == 0 {
		richTextFields = output.DefaultRichTextFields
	}
	return &Fetcher{log: log, concurrency: concurrency, projector: output.NewProjector(richTextFields)}
}

// Fetch runs query and projects every returned record onto fields. Remote
// failures never surface as errors: the result is marked degraded instead.
func (f *Fetcher) Fetch(ctx context.Context, src WorkItemSource, query string, top int, fields, headers []string, format Format) QueryResult {
	ctx, span := tracer.Start(ctx, "boards.Fetch")
	defer span.End()

	resp, err := src.Wiql(ctx, query, top)
	if err != nil {
		f.log.Warn("wiql query failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "wiql")
		return degraded(err)
	}

	ids := collectIDs(resp)
	span.SetAttributes(attribute.Int("boards.ids", len(ids)))
	if len(ids) == 0 {
		f.log.Info("no work items found")
		return empty()
	}

	items, err := f.fetchWorkItems(ctx, src, ids)
	if err != nil {
		f.log.Warn("work item batch fetch failed", zap.Error(err), zap.Int("ids", len(ids)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch")
		return degraded(err)
	}

	result := QueryResult{Header: headers, Rows: [][]string{}, Texts: []string{}, Status: StatusOK}
	for _, item := range items {
		switch format {
		case FormatText:
			text := f.projector.ProjectText(item, fields, headers)
			if text == "" {
				continue
			}
			result.Texts = append(result.Texts, text)
		default:
			row := f.projector.Project(item, fields)
			if len(row) == 0 {
				continue
			}
			result.Rows = append(result.Rows, row)
		}
	}
	f.log.Debug("work items projected", zap.Int("ids", len(ids)), zap.Int("records", len(items)))
	return result
}

// collectIDs prefers flat results and falls back to link targets for tree
// and one-hop queries.
func collectIDs(resp api.WiqlResponse) []int {
	ids := []int{}
	if len(resp.WorkItems) > 0 {
		for _, item := range resp.WorkItems {
			ids = append(ids, item.ID)
		}
		return ids
	}
	seen := map[int]bool{}
	for _, link := range resp.WorkItemLinks {
		if link.Target == nil || link.Target.ID == 0 || seen[link.Target.ID] {
			continue
		}
		ids = append(ids, link.Target.ID)
		seen[link.Target.ID] = true
	}
	return ids
}

func chunk(ids []int, size int) [][]int {
	batches := [][]int{}
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[i:end])
	}
	return batches
}

func (f *Fetcher) fetchWorkItems(ctx context.Context, src WorkItemSource, ids []int) ([]api.WorkItem, error) {
	batches := chunk(ids, MaxBatchSize)
	results := make([][]api.WorkItem, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			bctx, span := tracer.Start(gctx, "boards.batch")
			defer span.End()
			span.SetAttributes(attribute.Int("boards.batch.index", i), attribute.Int("boards.batch.size", len(batch)))

			items, err := src.GetWorkItemsBatch(bctx, batch, nil, expandAll)
			if err != nil {
				span.RecordError(err)
				return err
			}
			results[i] = orderWorkItems(batch, items)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := make([]api.WorkItem, 0, len(ids))
	for _, items := range results {
		all = append(all, items...)
	}
	return all, nil
}

func orderWorkItems(ids []int, items []api.WorkItem) []api.WorkItem {
	byID := make(map[int]api.WorkItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	ordered := make([]api.WorkItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			ordered = append(ordered, item)
		}
	}
	return ordered
}
