package boards

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"boards-wiql/internal/api"
	"boards-wiql/internal/embedding"
	"boards-wiql/internal/errs"
	"boards-wiql/internal/output"
	"boards-wiql/internal/richtext"
	"boards-wiql/internal/search"
	"boards-wiql/internal/wiql"
)

const ParentRelation = "System.LinkTypes.Hierarchy-Reverse"

// WorkItemWriter is the write side of the remote client.
type WorkItemWriter interface {
	CreateWorkItem(ctx context.Context, wiType string, patch []api.PatchOperation) (api.WorkItem, error)
	WorkItemURL(id int) string
}

// Indexer receives documents for newly created work items.
type Indexer interface {
	Upsert(ctx context.Context, docs ...search.Document) error
}

type CreateRequest struct {
	WorkItemType string                 `json:"work_item_type"`
	Title        string                 `json:"title,omitempty"`
	Description  string                 `json:"description,omitempty"`
	ParentID     int                    `json:"parent_id,omitempty"`
	AreaPath     string                 `json:"area_path,omitempty"`
	Fields       map[string]interface{} `json:"fields,omitempty"`
	Index        bool                   `json:"index,omitempty"`
}

func (r CreateRequest) Validate() error {
	if strings.TrimSpace(r.WorkItemType) == "" {
		return errs.New(errs.CodeInvalidArgs, "work_item_type is required", nil)
	}
	if r.ParentID < 0 {
		return errs.New(errs.CodeInvalidArgs, "parent_id must be positive", r.ParentID)
	}
	invalid := []string{}
	for ref := range r.Fields {
		if !wiql.ValidFieldRef(ref) {
			invalid = append(invalid, ref)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return errs.New(errs.CodeInvalidArgs, "invalid field reference", invalid)
	}
	return nil
}

type Creator struct {
	log      *zap.Logger
	defaults map[string]string
	embedder embedding.Embedder
	indexer  Indexer
}

// NewCreator builds a creator. embedder and indexer may be nil; without an
// indexer nothing is indexed.
func NewCreator(log *zap.Logger, defaults map[string]string, embedder embedding.Embedder, indexer Indexer) *Creator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Creator{log: log, defaults: defaults, embedder: embedder, indexer: indexer}
}

func (c *Creator) IndexEnabled() bool {
	return c.indexer != nil
}

// Create posts the work item. Remote failures are returned; indexing failures
// are only logged and reported through Created.Indexed.
func (c *Creator) Create(ctx context.Context, dst WorkItemWriter, req CreateRequest) (Created, error) {
	ctx, span := tracer.Start(ctx, "boards.Create")
	defer span.End()
	span.SetAttributes(attribute.String("boards.work_item_type", req.WorkItemType))

	if err := req.Validate(); err != nil {
		return Created{}, err
	}
	patch := BuildCreatePatch(req, c.defaults, dst.WorkItemURL)
	wi, err := dst.CreateWorkItem(ctx, req.WorkItemType, patch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create")
		return Created{}, err
	}

	created := Created{ID: wi.ID, URL: wi.URL}
	if created.URL == "" {
		created.URL = dst.WorkItemURL(wi.ID)
	}
	c.log.Info("work item created", zap.Int("id", wi.ID), zap.String("type", req.WorkItemType))

	if req.Index && c.indexer != nil {
		if err := c.index(ctx, req, created); err != nil {
			c.log.Warn("work item indexing failed", zap.Int("id", wi.ID), zap.Error(err))
			span.RecordError(err)
		} else {
			created.Indexed = true
		}
	}
	return created, nil
}

func (c *Creator) index(ctx context.Context, req CreateRequest, created Created) error {
	title := req.Title
	if title == "" {
		title = output.FieldValue(req.Fields, "System.Title")
	}
	description := richtext.PlainText(req.Description)
	doc := search.Document{
		ID:           strconv.Itoa(created.ID),
		Title:        title,
		Description:  description,
		WorkItemType: req.WorkItemType,
		AreaPath:     req.AreaPath,
		URL:          created.URL,
	}
	if c.embedder != nil {
		vector, err := c.embedder.Embed(ctx, strings.TrimSpace(title+"\n"+description))
		if err != nil {
			return errs.Wrap(err, errs.CodeIndexFailed, "embedding")
		}
		doc.Vector = vector
	}
	return c.indexer.Upsert(ctx, doc)
}

// BuildCreatePatch turns req into JSON-Patch operations. Fields are added in
// sorted order. Title, description and area path win over the same reference
// in req.Fields; defaults only fill references nothing else set. Reference
// names compare case-insensitively.
func BuildCreatePatch(req CreateRequest, defaults map[string]string, workItemURL func(int) string) []api.PatchOperation {
	fields := map[string]interface{}{}
	seen := map[string]bool{}
	set := func(ref string, value interface{}) {
		if !seen[strings.ToLower(ref)] {
			fields[ref] = value
			seen[strings.ToLower(ref)] = true
		}
	}
	if req.Title != "" {
		set("System.Title", req.Title)
	}
	if req.Description != "" {
		set("System.Description", req.Description)
	}
	if req.AreaPath != "" {
		set("System.AreaPath", req.AreaPath)
	}
	for _, ref := range sortedRefs(req.Fields) {
		set(ref, req.Fields[ref])
	}
	for _, ref := range sortedRefs(defaults) {
		value := defaults[ref]
		if wiql.ValidFieldRef(ref) {
			set(ref, value)
		}
	}

	refs := sortedRefs(fields)
	patch := make([]api.PatchOperation, 0, len(refs)+1)
	for _, ref := range refs {
		patch = append(patch, api.PatchOperation{Op: "add", Path: "/fields/" + ref, Value: fields[ref]})
	}
	if req.ParentID > 0 {
		patch = append(patch, api.PatchOperation{
			Op:   "add",
			Path: "/relations/-",
			Value: map[string]interface{}{
				"rel": ParentRelation,
				"url": workItemURL(req.ParentID),
			},
		})
	}
	return patch
}

func sortedRefs[V any](m map[string]V) []string {
	refs := make([]string, 0, len(m))
	for ref := range m {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
