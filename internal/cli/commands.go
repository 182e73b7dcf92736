package cli

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"boards-wiql/internal/boards"
	"boards-wiql/internal/errs"
	"boards-wiql/internal/mcptools"
	"boards-wiql/internal/output"
	"boards-wiql/internal/server"
	"boards-wiql/internal/wiql"
)

const tableCellWidth = 60

func newServeCommand(flags *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := buildContext(flags, stdout, stderr)
			if err != nil {
				return err
			}
			defer cc.close()
			if addr != "" {
				cc.cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			svc, err := cc.service(ctx)
			if err != nil {
				return err
			}
			if !cc.cfg.AuthEnabled() {
				cc.log.Warn("basic auth disabled; set API_USERNAME and API_PASSWORD to enable it")
			}
			router := server.NewRouter(&server.Handlers{Gateway: svc, Log: cc.log}, cc.cfg.Auth, cc.log.Named("http"))
			ln, err := net.Listen("tcp", cc.cfg.Server.Addr)
			if err != nil {
				return err
			}
			return server.Serve(ctx, server.New(cc.cfg.Server.Addr, router), ln, cc.log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")
	return cmd
}

func newMCPCommand(flags *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the boards tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := buildContext(flags, stdout, stderr)
			if err != nil {
				return err
			}
			defer cc.close()
			svc, err := cc.service(cmd.Context())
			if err != nil {
				return err
			}
			cc.log.Info("mcp server starting", zap.String("version", Version))
			return mcpserver.ServeStdio(mcptools.NewServer(svc, Version))
		},
	}
}

type wiqlOptions struct {
	top            int
	format         string
	excludedStates []string
	areaPaths      []string
	filters        []string
	keywords       []string
}

func newWiqlCommand(flags *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	opts := wiqlOptions{}
	cmd := &cobra.Command{
		Use:   "wiql [\"<WIQL>\"]",
		Short: "Run a query built from filters, or the given raw WIQL, and print the rows",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := opts.params(args)
			if err != nil {
				return err
			}
			cc, err := buildContext(flags, stdout, stderr)
			if err != nil {
				return err
			}
			defer cc.close()
			svc, err := cc.service(cmd.Context())
			if err != nil {
				return err
			}
			req := boards.QueryRequest{Top: opts.top, Format: boards.Format(opts.format), Parameters: params}
			result, err := svc.Query(cmd.Context(), req)
			if err != nil {
				return err
			}
			if result.Status == boards.StatusDegraded {
				return errs.Wrap(result.Err, errs.CodeHTTPError, "query failed")
			}
			return renderResult(cc, req.Format, result)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.top, "top", 0, "Maximum number of results (default from config)")
	f.StringVar(&opts.format, "format", string(boards.FormatTable), "table or text")
	f.StringSliceVar(&opts.excludedStates, "exclude-state", nil, "State to exclude (repeatable or comma separated)")
	f.StringArrayVar(&opts.areaPaths, "area-path", nil, "Area path to search UNDER (repeatable)")
	f.StringArrayVar(&opts.filters, "filter", nil, "Field=v1,v2 value filter (repeatable)")
	f.StringArrayVar(&opts.keywords, "keyword", nil, "Field=text keyword filter (repeatable)")
	return cmd
}

func (o wiqlOptions) params(args []string) (wiql.Params, error) {
	params := wiql.Params{
		ExcludedStates: o.excludedStates,
		AreaPaths:      o.areaPaths,
	}
	if len(args) == 1 {
		params.Query = args[0]
	}
	for _, raw := range o.filters {
		field, value, err := parseAssignment(raw)
		if err != nil {
			return wiql.Params{}, err
		}
		if params.ValueFilters == nil {
			params.ValueFilters = map[string][]string{}
		}
		params.ValueFilters[field] = append(params.ValueFilters[field], splitCSV(value)...)
	}
	for _, raw := range o.keywords {
		field, value, err := parseAssignment(raw)
		if err != nil {
			return wiql.Params{}, err
		}
		if params.KeywordFilters == nil {
			params.KeywordFilters = map[string]string{}
		}
		params.KeywordFilters[field] = value
	}
	return params, nil
}

func renderResult(cc *commandContext, format boards.Format, result boards.QueryResult) error {
	if format == boards.FormatText {
		if cc.jsonMode {
			return output.PrintJSON(cc.stdout, map[string][]string{"work_items": result.Texts})
		}
		fmt.Fprintln(cc.stdout, strings.Join(result.Texts, "\n\n"))
		return nil
	}
	if cc.jsonMode {
		return output.PrintJSON(cc.stdout, map[string]interface{}{
			"header": result.Header,
			"values": result.Rows,
		})
	}
	output.PrintTable(cc.stdout, result.Header, result.Rows, tableCellWidth)
	return nil
}

type createOptions struct {
	wiType       string
	title        string
	description  string
	areaPath     string
	parent       int
	sets         []string
	index        bool
	organization string
}

func newCreateCommand(flags *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	opts := createOptions{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.wiType == "" {
				return errs.New(errs.CodeInvalidArgs, "--type is required", nil)
			}
			fields := map[string]interface{}{}
			for _, set := range opts.sets {
				field, value, err := parseAssignment(set)
				if err != nil {
					return err
				}
				fields[field] = value
			}
			cc, err := buildContext(flags, stdout, stderr)
			if err != nil {
				return err
			}
			defer cc.close()
			svc, err := cc.service(cmd.Context())
			if err != nil {
				return err
			}
			created, err := svc.Create(cmd.Context(), boards.NewWorkItem{
				Organization: opts.organization,
				CreateRequest: boards.CreateRequest{
					WorkItemType: opts.wiType,
					Title:        opts.title,
					Description:  opts.description,
					AreaPath:     opts.areaPath,
					ParentID:     opts.parent,
					Fields:       fields,
					Index:        opts.index,
				},
			})
			if err != nil {
				return err
			}
			if cc.jsonMode {
				return output.PrintJSON(stdout, created)
			}
			fmt.Fprintf(stdout, "Created #%d %s (indexed: %t)\n", created.ID, created.URL, created.Indexed)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.wiType, "type", "", "Work item type")
	f.StringVar(&opts.title, "title", "", "Title")
	f.StringVar(&opts.description, "description", "", "Description (HTML allowed)")
	f.StringVar(&opts.areaPath, "area-path", "", "Area path")
	f.IntVar(&opts.parent, "parent", 0, "Parent work item ID")
	f.StringArrayVar(&opts.sets, "set", nil, "Field=Value (repeatable)")
	f.BoolVar(&opts.index, "index", false, "Push the new item to the search index")
	f.StringVar(&opts.organization, "organization", "", "Target organization (default from config)")
	return cmd
}

func newConfigCommand(flags *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "view",
		Short: "Show the effective config (secrets redacted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := buildContext(flags, stdout, stderr)
			if err != nil {
				return err
			}
			defer cc.close()
			redacted := cc.cfg.Redacted()
			if cc.jsonMode {
				return output.PrintJSON(stdout, redacted)
			}
			fmt.Fprintf(stdout, "BaseURL: %s\nOrganization: %s\nProject: %s\nPAT: %s\nListen: %s\nSearch: %t\n",
				redacted.ADO.BaseURL, redacted.ADO.Organization, redacted.ADO.Project, redacted.ADO.PAT,
				redacted.Server.Addr, cc.cfg.SearchEnabled())
			return nil
		},
	})
	return cmd
}
