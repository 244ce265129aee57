package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/fieldadmin/internal/config"
	"github.com/pitabwire/fieldadmin/internal/records"
	"github.com/pitabwire/fieldadmin/internal/store"
	"github.com/pitabwire/fieldadmin/model"
)

// caller flags identify the operator of a one-shot admin command.
type caller struct {
	token   string
	tenant  string
	subject string
	output  string
	verbose bool
}

func (c *caller) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&c.token, "token", "", "bearer token (defaults to $FIELDADMIN_TOKEN)")
	f.StringVar(&c.tenant, "tenant", "", "tenant id (defaults to $FIELDADMIN_TENANT)")
	f.StringVar(&c.subject, "subject", "cli", "operator subject id")
	f.StringVarP(&c.output, "output", "o", "yaml", "output format: yaml or json")
	f.BoolVarP(&c.verbose, "verbose", "v", false, "log remote calls to stderr")
}

func (c *caller) requestContext() *model.RequestContext {
	token := c.token
	if token == "" {
		token = os.Getenv("FIELDADMIN_TOKEN")
	}
	tenant := c.tenant
	if tenant == "" {
		tenant = os.Getenv("FIELDADMIN_TENANT")
	}
	return &model.RequestContext{Token: token, TenantID: tenant, SubjectID: c.subject}
}

// adminFunc runs one operation and returns the value to print.
type adminFunc func(ctx context.Context, svc *store.Service, rctx *model.RequestContext, args []string) (any, error)

// runE adapts fn to cobra, building a backend with in-memory caches for the
// duration of the command.
func (c *caller) runE(g *globals, fn adminFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		// The command acts as the operator whose token it forwards and
		// serves no one else, so the token is not verified locally.
		cfg, err := g.load(func(c *config.Config) {
			c.Identity.Mode = config.IdentityUnverified
		})
		if err != nil {
			return err
		}
		cfg.SchemaCache.Driver = "memory"
		cfg.Observations.Driver = "memory"

		logger := newCLILogger(cmd.ErrOrStderr(), c.verbose)
		defer logger.Sync()

		b, err := buildBackend(cmd.Context(), cfg, logger, nil)
		if err != nil {
			return err
		}
		defer b.close()

		rctx := c.requestContext()
		if err := rctx.Validate(); err != nil {
			return fmt.Errorf("%w (pass --token or set FIELDADMIN_TOKEN)", err)
		}

		v, err := fn(cmd.Context(), b.service(store.NewSessions(0)), rctx, args)
		if err != nil {
			return err
		}
		if v == nil {
			return nil
		}
		return render(cmd.OutOrStdout(), c.output, v)
	}
}

// newCLILogger writes human readable entries to w. Only warnings and above
// are shown unless verbose is set.
func newCLILogger(w io.Writer, verbose bool) *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core).Named("fieldadmin")
}

// render prints v as YAML or indented JSON. Values go through JSON first so
// both formats use the wire field names.
func render(w io.Writer, format string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	switch format {
	case "json":
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml", "":
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// parseDocument reads an optional JSON object flag.
func parseDocument(name, raw string) (model.Document, error) {
	if raw == "" {
		return nil, nil
	}
	var doc model.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %w", name, err)
	}
	return doc, nil
}

// --- data models ---

func newModelsCommand(g *globals) *cobra.Command {
	c := &caller{}
	cmd := &cobra.Command{Use: "models", Short: "Inspect data models"}
	c.register(cmd)

	var bySlug bool
	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one data model",
		Args:  cobra.ExactArgs(1),
		RunE: c.runE(g, func(ctx context.Context, svc *store.Service, rctx *model.RequestContext, args []string) (any, error) {
			if bySlug {
				return svc.GetDataModelBySlug(ctx, rctx, args[0])
			}
			return svc.GetDataModel(ctx, rctx, args[0])
		}),
	}
	get.Flags().BoolVar(&bySlug, "slug", false, "treat the argument as a slug")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List data models",
			Args:  cobra.NoArgs,
			RunE: c.runE(g, func(ctx context.Context, svc *store.Service, rctx *model.RequestContext, _ []string) (any, error) {
				return svc.ListDataModels(ctx, rctx)
			}),
		},
		get,
	)
	return cmd
}

// --- records ---

func newRecordsCommand(g *globals) *cobra.Command {
	c := &caller{}
	cmd := &cobra.Command{Use: "records", Short: "Query and read records"}
	c.register(cmd)

	var (
		filter string
		sort   string
		limit  int
		offset int
	)
	query := &cobra.Command{
		Use:   "query <modelId>",
		Short: "Query records of a data model",
		Args:  cobra.ExactArgs(1),
		RunE: c.runE(g, func(ctx context.Context, svc *store.Service, rctx *model.RequestContext, args []string) (any, error) {
			opts := model.QueryOptions{Sort: records.ParseSort(sort)}
			doc, err := parseDocument("filter", filter)
			if err != nil {
				return nil, err
			}
			opts.Filter = doc
			if limit >= 0 {
				opts.Limit = &limit
			}
			if offset >= 0 {
				opts.Offset = &offset
			}
			return svc.QueryRecords(ctx, rctx, args[0], opts)
		}),
	}
	query.Flags().StringVar(&filter, "filter", "", "JSON filter object keyed by field slug")
	query.Flags().StringVar(&sort, "sort", "", "comma separated field[:asc|desc] keys")
	query.Flags().IntVar(&limit, "limit", -1, "page size (server default when unset)")
	query.Flags().IntVar(&offset, "offset", -1, "page offset (server default when unset)")

	cmd.AddCommand(
		query,
		&cobra.Command{
			Use:   "get <modelId> <recordId>",
			Short: "Show one record",
			Args:  cobra.ExactArgs(2),
			RunE: c.runE(g, func(ctx context.Context, svc *store.Service, rctx *model.RequestContext, args []string) (any, error) {
				return svc.GetRecord(ctx, rctx, args[0], args[1])
			}),
		},
	)
	return cmd
}

// --- workflows ---

func newWorkflowsCommand(g *globals) *cobra.Command {
	c := &caller{}
	cmd := &cobra.Command{Use: "workflows", Short: "Inspect workflows and drive executions"}
	c.register(cmd)

	var input string
	execute := &cobra.Command{
		Use:   "execute <workflowId>",
		Short: "Start an execution of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: c.runE(g, func(ctx context.Context, svc *store.Service, rctx *model.RequestContext, args []string) (any, error) {
			doc, err := parseDocument("input", input)
			if err != nil {
				return nil, err
			}
			return svc.ExecuteWorkflow(ctx, rctx, args[0], doc)
		}),
	}
	execute.Flags().StringVar(&input, "input", "", "JSON input document")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List workflows",
			Args:  cobra.NoArgs,
			RunE: c.runE(g, func(ctx context.Context, svc *store.Service, rctx *model.RequestContext, _ []string) (any, error) {
				return svc.ListWorkflows(ctx, rctx)
			}),
		},
		&cobra.Command{
			Use:   "get <id>",
			Short: "Show one workflow",
			Args:  cobra.ExactArgs(1),
			RunE: c.runE(g, func(ctx context.Context, svc *store.Service, rctx *model.RequestContext, args []string) (any, error) {
				return svc.GetWorkflow(ctx, rctx, args[0])
			}),
		},
		execute,
		&cobra.Command{
			Use:   "executions <workflowId>",
			Short: "List executions of a workflow",
			Args:  cobra.ExactArgs(1),
			RunE: c.runE(g, func(ctx context.Context, svc *store.Service, rctx *model.RequestContext, args []string) (any, error) {
				return svc.ListExecutions(ctx, rctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "execution <executionId>",
			Short: "Show one execution",
			Args:  cobra.ExactArgs(1),
			RunE: c.runE(g, func(ctx context.Context, svc *store.Service, rctx *model.RequestContext, args []string) (any, error) {
				return svc.GetExecution(ctx, rctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "cancel <executionId>",
			Short: "Cancel a pending or running execution",
			Args:  cobra.ExactArgs(1),
			RunE: c.runE(g, func(ctx context.Context, svc *store.Service, rctx *model.RequestContext, args []string) (any, error) {
				return svc.CancelExecution(ctx, rctx, args[0])
			}),
		},
	)
	return cmd
}
