package boards

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"boards-wiql/internal/api"
	"boards-wiql/internal/config"
	"boards-wiql/internal/embedding"
	"boards-wiql/internal/errs"
	"boards-wiql/internal/search"
	"boards-wiql/internal/wiql"
)

// QueryRequest is one read: structured filters (or a raw query) plus the
// caller's credential.
type QueryRequest struct {
	PAT        string      `json:"pat,omitempty"`
	Top        int         `json:"top,omitempty"`
	Format     Format      `json:"format,omitempty"`
	Parameters wiql.Params `json:"parameters"`
}

// NewWorkItem is one create, optionally aimed at another organization or project.
type NewWorkItem struct {
	PAT          string `json:"pat,omitempty"`
	Organization string `json:"organization,omitempty"`
	Project      string `json:"project,omitempty"`
	CreateRequest
}

// Service binds the query and create flows to configuration and the client pool.
type Service struct {
	cfg     config.Config
	catalog wiql.Catalog
	opts    wiql.Options
	pool    *api.Pool
	fetcher *Fetcher
	creator *Creator
	log     *zap.Logger
}

func NewService(cfg config.Config, pool *api.Pool, catalog wiql.Catalog, creator *Creator, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	mode, err := wiql.ParseAreaPathMode(cfg.Query.AreaPathMode)
	if err != nil {
		return nil, err
	}
	if len(catalog) == 0 {
		catalog = wiql.DefaultCatalog()
	}
	if creator == nil {
		creator = NewCreator(log, cfg.Create.Defaults(), nil, nil)
	}
	return &Service{
		cfg:     cfg,
		catalog: catalog,
		opts: wiql.Options{
			Team:                  cfg.ADO.Team,
			WorkItemTypes:         cfg.Query.WorkItemTypes,
			DaysBack:              cfg.Query.DaysBack,
			DefaultExcludedStates: cfg.Query.ExcludedStates,
			DefaultAreaPaths:      cfg.Query.AreaPaths,
			AreaPathMode:          mode,
		},
		pool:    pool,
		fetcher: NewFetcher(log, cfg.Query.BatchConcurrency, cfg.Query.RichTextFields...),
		creator: creator,
		log:     log,
	}, nil
}

// FromConfig builds the pool, field catalog and, when configured, the
// embedding and search clients.
func FromConfig(ctx context.Context, cfg config.Config, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	catalog, err := wiql.LoadCatalog(cfg.Query.FieldsFile)
	if err != nil {
		return nil, err
	}

	opts := api.Options{
		Timeout:  cfg.ADO.Timeout,
		Insecure: cfg.ADO.Insecure,
		Logger:   log.Named("ado"),
	}
	if cfg.ADO.RateLimit > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(cfg.ADO.RateLimit), int(cfg.ADO.RateLimit)+1)
	}
	pool := api.NewPool(cfg.Client.TTL, opts)

	var indexer Indexer
	var embedder embedding.Embedder
	if cfg.SearchEnabled() {
		searchClient, err := search.NewClient(cfg.Search.Endpoint, cfg.Search.Key, cfg.Search.Index, cfg.Search.APIVersion, pool.HTTPClient(), log.Named("search"))
		if err != nil {
			return nil, err
		}
		indexer = searchClient
		if cfg.Embedding.APIKey != "" {
			engine, err := embedding.NewGenAIEngine(ctx, cfg.Embedding.APIKey, cfg.Embedding.Model)
			if err != nil {
				return nil, err
			}
			embedder = engine
			log.Info("embedding enabled", zap.String("engine", engine.Name()))
		}
	}
	creator := NewCreator(log.Named("create"), cfg.Create.Defaults(), embedder, indexer)
	return NewService(cfg, pool, catalog, creator, log)
}

// Query validates req, builds the WIQL and fetches the rows. Only invalid
// requests return an error; remote failures come back as a degraded result.
func (s *Service) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	format := req.Format
	switch format {
	case "":
		format = FormatTable
	case FormatTable, FormatText:
	default:
		return QueryResult{}, errs.New(errs.CodeInvalidArgs, "format must be table or text", string(format))
	}
	if req.Top < 0 {
		return QueryResult{}, errs.New(errs.CodeInvalidArgs, "top must be positive", req.Top)
	}
	params := req.Parameters
	if err := params.Validate(); err != nil {
		return QueryResult{}, err
	}
	if len(params.AllowedFields) == 0 {
		params.AllowedFields = s.catalog
	}

	conn := s.connection(req.PAT, s.cfg.ADO.Organization, s.cfg.ADO.Project)
	if conn.PAT == "" {
		return QueryResult{}, errs.New(errs.CodeInvalidArgs, "pat is required", nil)
	}
	if req.Top > 0 {
		conn.Top = req.Top
	}
	client, err := s.pool.Client(conn)
	if err != nil {
		return QueryResult{}, err
	}

	query := wiql.Build(params, s.opts)
	s.log.Debug("wiql built", zap.String("query", query), zap.Bool("raw", strings.TrimSpace(params.Query) != ""))

	fields := params.AllowedFields.SortedKeys()
	headers := params.AllowedFields.Headers(fields)
	result := s.fetcher.Fetch(ctx, client, query, conn.Top, fields, headers, format)
	result.Header = headers
	return result, nil
}

// Create resolves the target connection and creates the work item.
func (s *Service) Create(ctx context.Context, req NewWorkItem) (Created, error) {
	if err := req.Validate(); err != nil {
		return Created{}, err
	}
	org := firstNonEmpty(req.Organization, s.cfg.Create.Organization)
	project := firstNonEmpty(req.Project, s.cfg.Create.Project)
	conn := s.connection(req.PAT, org, project)
	if conn.PAT == "" {
		return Created{}, errs.New(errs.CodeInvalidArgs, "pat is required", nil)
	}
	if conn.Project == "" {
		return Created{}, errs.New(errs.CodeConfigMissing, "project is required", nil)
	}
	client, err := s.pool.Client(conn)
	if err != nil {
		return Created{}, err
	}
	if req.Index && !s.creator.IndexEnabled() {
		s.log.Info("indexing requested but search is not configured")
	}
	return s.creator.Create(ctx, client, req.CreateRequest)
}

func (s *Service) connection(pat, org, project string) api.Connection {
	return api.Connection{
		BaseURL:      s.cfg.ADO.BaseURL,
		Organization: org,
		Team:         s.cfg.ADO.Team,
		Project:      project,
		PAT:          firstNonEmpty(pat, s.cfg.ADO.PAT),
		Top:          s.cfg.ADO.Top,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
