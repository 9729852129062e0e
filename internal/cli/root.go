// Package cli implements the attrctl command tree.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath  string
	Backend     string // "sqlite" | "dynamo"
	DB          string
	TablePrefix string
	Profile     string
	DryRun      bool
	Verbose     bool
	Format      string // "text" | "yaml"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "yaml"}

// ValidBackends defines the allowed backends.
var ValidBackends = []string{"sqlite", "dynamo"}

// NewRootCommand creates the root command for attrctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "attrctl",
		Short: "attrctl - inspect and edit attribute stores",
		Long: `attrctl reads and writes items of any container without a compiled schema.

Every attribute is treated as a list of strings, as stored.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Backend != "" && !slices.Contains(ValidBackends, opts.Backend) {
				return fmt.Errorf("invalid backend %q: must be one of %v", opts.Backend, ValidBackends)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "backend (sqlite|dynamo), default sqlite")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "SQLite database path, default attrmap.db")
	cmd.PersistentFlags().StringVar(&opts.TablePrefix, "table-prefix", "", "DynamoDB table name prefix")
	cmd.PersistentFlags().StringVar(&opts.Profile, "profile", "", "AWS shared config profile")
	cmd.PersistentFlags().BoolVar(&opts.DryRun, "dry-run", false, "print writes instead of sending them")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|yaml)")

	// Add subcommands
	cmd.AddCommand(NewContainersCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewSelectCommand(opts))

	return cmd
}
