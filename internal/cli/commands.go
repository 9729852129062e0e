package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jacentio/attrmap/backend"
	"github.com/jacentio/attrmap/store"
)

// run opens the store, applies the dry-run scope and calls fn.
func run(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, s *store.Store, p *printer) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	p := &printer{format: opts.Format, w: cmd.OutOrStdout()}

	sess, err := opts.open(ctx, cmd.ErrOrStderr())
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "open store", Err: err}
	}
	defer sess.close()

	if opts.DryRun {
		id := uuid.NewString()
		ctx = backend.WithWriteLog(ctx, backend.WriteLogFunc(func(_ context.Context, req *backend.WriteRequest) error {
			return p.request(id, req)
		}))
	}
	return fn(ctx, sess.store, p)
}

// NewContainersCommand creates the containers command.
func NewContainersCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "containers",
		Short:         "List containers",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, s *store.Store, p *printer) error {
				names, err := s.Containers(ctx)
				if err != nil {
					return err
				}
				return p.lines(names...)
			})
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <container> <item> [attribute...]",
		Short:         "Print the attributes of an item",
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, s *store.Store, p *printer) error {
				d := s.Registry().AdHoc(args[0])
				v, err := s.Get(ctx, d, args[1], args[2:]...)
				if err != nil {
					return err
				}
				if v == nil || v.Len() == 0 {
					return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%s/%s not found", args[0], args[1])}
				}
				return p.items(v)
			})
		},
	}
}

// NewPutCommand creates the put command.
func NewPutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <container> <item> name=value...",
		Short: "Replace attributes of an item",
		Long: `Replace the named attributes of an item. Repeating a name stores several values,
for example: attrctl put widgets w-1 colour=red colour=blue size=L`,
		Args:          cobra.MinimumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseAssignments(args[1], args[2:])
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "invalid arguments", Err: err}
			}
			return run(cmd, opts, func(ctx context.Context, s *store.Store, p *printer) error {
				return s.Put(ctx, s.Registry().AdHoc(args[0]), v)
			})
		},
	}
}

// parseAssignments builds the values of item from name=value pairs.
func parseAssignments(item string, pairs []string) (*store.Values, error) {
	v := store.NewValues(item)
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", pair)
		}
		v.Add(name, value)
	}
	return v, nil
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <container> <item> [attribute...]",
		Short:         "Delete an item or some of its attributes",
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, s *store.Store, p *printer) error {
				return s.Delete(ctx, s.Registry().AdHoc(args[0]), []any{args[1]}, args[2:]...)
			})
		},
	}
}

// NewSelectCommand creates the select command.
func NewSelectCommand(opts *RootOptions) *cobra.Command {
	var (
		maxPages   int
		consistent bool
	)

	cmd := &cobra.Command{
		Use:   "select <expression>",
		Short: "Run a select expression",
		Long: `Run a select expression, for example:

  attrctl select "select * from widgets where colour = 'red' limit 10"
  attrctl select "select count(*) from widgets"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := backend.ParseSelect(args[0])
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "invalid expression", Err: err}
			}
			return run(cmd, opts, func(ctx context.Context, s *store.Store, p *printer) error {
				sc := &store.SelectCommand{
					Expression: args[0],
					MaxPages:   maxPages,
					Consistent: consistent,
				}
				if sel.Projection == backend.ProjectCount {
					n, err := s.SelectScalar(ctx, sc)
					if err != nil {
						return err
					}
					return p.scalar(n)
				}
				res, err := s.Select(ctx, sc)
				if err != nil {
					return err
				}
				if err := p.items(res.Items...); err != nil {
					return err
				}
				if res.NextToken != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "more results available after %d page(s)\n", maxPages)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many pages (0 = all)")
	cmd.Flags().BoolVar(&consistent, "consistent", false, "use strongly-consistent reads")

	return cmd
}
