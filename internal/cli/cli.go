package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"boards-wiql/internal/boards"
	"boards-wiql/internal/config"
	"boards-wiql/internal/output"
	"boards-wiql/internal/telemetry"
)

const Version = "0.3.0"

type globalFlags struct {
	configPath string
	pat        string
	project    string
	json       bool
	verbose    bool
	insecure   bool
	trace      bool
}

// commandContext is what every subcommand runs with once flags are parsed.
type commandContext struct {
	cfg      config.Config
	log      *zap.Logger
	jsonMode bool
	stdout   io.Writer
	stderr   io.Writer
	shutdown telemetry.ShutdownFunc
}

func (c *commandContext) close() {
	_ = c.shutdown(context.Background())
	_ = c.log.Sync()
}

// Run executes the command line and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	flags := &globalFlags{}
	root := newRootCommand(flags, stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		output.WriteError(stderr, err, flags.json)
		return 1
	}
	return 0
}

func newRootCommand(flags *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "boards-wiql",
		Short:         "WIQL gateway for Azure DevOps Boards",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Config file (default: user config dir)")
	pf.StringVar(&flags.pat, "pat", "", "PAT token (overrides config/env)")
	pf.StringVar(&flags.project, "project", "", "Project (overrides config/env)")
	pf.BoolVar(&flags.json, "json", true, "Output JSON (set --json=false for text)")
	pf.BoolVar(&flags.verbose, "verbose", false, "Debug logging, including HTTP requests (no tokens)")
	pf.BoolVar(&flags.insecure, "insecure", false, "Skip TLS verification")
	pf.BoolVar(&flags.trace, "trace", false, "Export trace spans to stderr")

	root.AddCommand(
		newServeCommand(flags, stdout, stderr),
		newMCPCommand(flags, stdout, stderr),
		newWiqlCommand(flags, stdout, stderr),
		newCreateCommand(flags, stdout, stderr),
		newConfigCommand(flags, stdout, stderr),
	)
	return root
}

func buildContext(flags *globalFlags, stdout, stderr io.Writer) (*commandContext, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.pat != "" {
		cfg.ADO.PAT = flags.pat
	}
	if flags.project != "" {
		cfg.ADO.Project = flags.project
		cfg.Create.Project = flags.project
	}
	if flags.insecure {
		cfg.ADO.Insecure = true
	}
	shutdown, err := telemetry.SetupTracing(stderr, flags.trace)
	if err != nil {
		return nil, err
	}
	return &commandContext{
		cfg:      cfg,
		log:      telemetry.NewLogger(stderr, flags.verbose),
		jsonMode: flags.json,
		stdout:   stdout,
		stderr:   stderr,
		shutdown: shutdown,
	}, nil
}

func (c *commandContext) service(ctx context.Context) (*boards.Service, error) {
	return boards.FromConfig(ctx, c.cfg, c.log)
}
