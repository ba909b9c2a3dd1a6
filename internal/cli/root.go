// Package cli implements the certnode command line. Every command runs
// against a single-file SQLite ledger.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"certnode/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Ledger        string
	KeyFile       string
	JWKSFile      string
	TrustPolicy   string
	PatternBundle string
	Format        string // "json" | "text"
	Verbose       bool
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. Flag defaults come from the same
// environment variables the server reads.
func NewRootCommand() *cobra.Command {
	env := config.FromEnv()
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "certnode",
		Short: "Signed receipts and the provenance graph between them",
		Long: `certnode signs receipts as detached JWS envelopes over canonical JSON,
links them into an acyclic provenance graph and answers trust, completeness,
path and fraud pattern queries over that graph.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.Ledger, "ledger", env.SQLitePath, "path to the SQLite receipt ledger")
	flags.StringVar(&opts.KeyFile, "key", "certnode-key.pem", "PEM private key used to sign and verify")
	flags.StringVar(&opts.JWKSFile, "jwks", "", "JWKS document to verify against instead of --key")
	flags.StringVar(&opts.TrustPolicy, "trust-policy", env.TrustPolicyPath, "YAML trust policy (built-in weights when empty)")
	flags.StringVar(&opts.PatternBundle, "patterns", env.PatternBundlePath, "directory of Rego pattern rules")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewJWKSCommand(opts))
	cmd.AddCommand(NewSignCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewLinkCommand(opts))
	cmd.AddCommand(NewGraphCommand(opts))
	cmd.AddCommand(NewTrustCommand(opts))
	cmd.AddCommand(NewCompletenessCommand(opts))
	cmd.AddCommand(NewPathsCommand(opts))
	cmd.AddCommand(NewCrossProductCommand(opts))
	cmd.AddCommand(NewDetectCommand(opts))

	return cmd
}
