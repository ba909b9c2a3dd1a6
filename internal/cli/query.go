package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"certnode/internal/domain"
	"certnode/internal/usecase"
)

type GraphOptions struct {
	*RootOptions
	Direction string
	MaxDepth  int
	MaxNodes  int
}

func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GraphOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "graph <receipt-id>",
		Short: "Show the provenance neighborhood of a receipt",
		Long: `Walk ancestors, descendants or both from a receipt, bounded by depth and
node count. Nodes carry their graph depth and trust.

Examples:
  certnode graph <id>
  certnode graph <id> --direction ancestors --max-depth 3 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Direction, "direction", string(domain.DirectionBoth), "ancestors, descendants or both")
	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", 0, "maximum hops from the root (0 uses the default)")
	cmd.Flags().IntVar(&opts.MaxNodes, "max-nodes", 0, "maximum nodes returned (0 uses the default)")

	return cmd
}

func runGraph(opts *GraphOptions, cmd *cobra.Command, id string) error {
	ctx := context.Background()
	p := newPrinter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	sess, err := openSession(ctx, opts.RootOptions, p, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	g, err := sess.svc.QueryGraph(ctx, id, usecase.GraphQuery{
		Direction: domain.GraphDirection(opts.Direction),
		MaxDepth:  opts.MaxDepth,
		MaxNodes:  opts.MaxNodes,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "graph query failed", err)
	}
	return p.emit(g, func(w io.Writer) {
		fmt.Fprintf(w, "root %s (%s)\n", g.RootID, g.Direction)
		for _, n := range g.Nodes {
			fmt.Fprintf(w, "  %s%s  %s  depth=%d  trust=%.2f %s\n",
				strings.Repeat("  ", n.Distance), n.ID, n.Domain, n.GraphDepth, n.TrustScore, n.TrustLevel)
		}
		for _, e := range g.Edges {
			fmt.Fprintf(w, "  %s -[%s]-> %s\n", e.ParentReceiptID, e.RelationType, e.ChildReceiptID)
		}
		if g.Truncated {
			fmt.Fprintf(w, "  truncated: %s\n", strings.Join(g.Limits.Hit, ", "))
		}
	})
}

func NewTrustCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trust <receipt-id>",
		Short: "Score a receipt by the provenance around it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			p := newPrinter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			sess, err := openSession(ctx, rootOpts, p, false)
			if err != nil {
				return err
			}
			defer sess.Close()

			a, err := sess.svc.AssessTrust(ctx, args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "trust assessment failed", err)
			}
			return p.emit(a, func(w io.Writer) {
				fmt.Fprintf(w, "%s  %.2f %s  depth=%d\n", a.ReceiptID, a.Score, a.Level, a.GraphDepth)
				for _, c := range a.Components {
					mark := " "
					if c.Applied {
						mark = "+"
					}
					fmt.Fprintf(w, "  %s %-20s %.2f\n", mark, c.Name, c.Weight)
				}
			})
		},
	}
}

func NewCompletenessCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "completeness <receipt-id>",
		Short: "Report which provenance signals a receipt is missing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			p := newPrinter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			sess, err := openSession(ctx, rootOpts, p, false)
			if err != nil {
				return err
			}
			defer sess.Close()

			c, err := sess.svc.Completeness(ctx, args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "completeness check failed", err)
			}
			return p.emit(c, func(w io.Writer) {
				fmt.Fprintf(w, "%s  %.2f\n", c.ReceiptID, c.Score)
				for _, s := range c.Signals {
					status := "ok"
					if !s.Passed {
						status = "missing"
					}
					fmt.Fprintf(w, "  %-14s %-8s %s\n", s.Name, status, s.Message)
					if !s.Passed && s.Remediation != "" {
						fmt.Fprintf(w, "    -> %s\n", s.Remediation)
					}
				}
			})
		},
	}
}

type PathsOptions struct {
	*RootOptions
	MaxPaths int
}

func NewPathsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PathsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "paths <from-id> <to-id>",
		Short: "List parent to child paths between two receipts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPaths(opts, cmd, args[0], args[1])
		},
	}

	cmd.Flags().IntVar(&opts.MaxPaths, "max-paths", 0, "maximum paths returned (0 uses the default)")

	return cmd
}

func runPaths(opts *PathsOptions, cmd *cobra.Command, from, to string) error {
	ctx := context.Background()
	p := newPrinter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	sess, err := openSession(ctx, opts.RootOptions, p, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	paths, err := sess.svc.FindPaths(ctx, from, to, opts.MaxPaths)
	if err != nil {
		return WrapExitError(ExitCommandError, "path search failed", err)
	}
	if paths == nil {
		paths = []domain.Path{}
	}
	return p.emit(paths, func(w io.Writer) {
		if len(paths) == 0 {
			fmt.Fprintln(w, "no paths")
			return
		}
		for _, path := range paths {
			fmt.Fprintln(w, formatPath(path))
		}
	})
}

func NewCrossProductCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cross-product <receipt-a> <receipt-b>",
		Short: "Check that two receipts corroborate each other",
		Long: `Check two receipts for a connecting path, consistent claimed content
hashes, issuance within the configured window and a matching entity.

Exits 1 when any check fails.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			p := newPrinter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			sess, err := openSession(ctx, rootOpts, p, false)
			if err != nil {
				return err
			}
			defer sess.Close()

			r, err := sess.svc.CrossProduct(ctx, args[0], args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "cross-product check failed", err)
			}
			if err := p.emit(r, func(w io.Writer) {
				fmt.Fprintf(w, "%s x %s  valid=%t\n", r.ReceiptA, r.ReceiptB, r.Valid)
				for _, c := range r.Checks {
					fmt.Fprintf(w, "  %-18s %-5t %s\n", c.Name, c.Passed, c.Message)
				}
			}); err != nil {
				return err
			}
			if !r.Valid {
				return NewExitError(ExitFailure, "receipts do not corroborate")
			}
			return nil
		},
	}
}

type DetectOptions struct {
	*RootOptions
	Pattern string
	List    bool
}

func NewDetectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DetectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run fraud patterns over the ledger",
		Long: `Run one named pattern, or every registered pattern, over all recorded
receipts. Rules loaded from --patterns run next to the built-in ones.

Examples:
  certnode detect
  certnode detect --pattern orphaned_high_value_transaction
  certnode detect --list`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Pattern, "pattern", "", "run only this pattern")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list registered patterns and exit")

	return cmd
}

func runDetect(opts *DetectOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	p := newPrinter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	sess, err := openSession(ctx, opts.RootOptions, p, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	if opts.List {
		names := sess.svc.Patterns.Names()
		return p.emit(names, func(w io.Writer) {
			for _, n := range names {
				fmt.Fprintln(w, n)
			}
		})
	}

	matches, err := sess.svc.DetectPatterns(ctx, opts.Pattern)
	if err != nil {
		return WrapExitError(ExitCommandError, "pattern detection failed", err)
	}
	if matches == nil {
		matches = []domain.PatternMatch{}
	}
	return p.emit(matches, func(w io.Writer) {
		if len(matches) == 0 {
			fmt.Fprintln(w, "no matches")
			return
		}
		for _, m := range matches {
			fmt.Fprintf(w, "%-6s %.2f  %s  %s\n", m.RiskLevel, m.RiskScore, m.Pattern, m.ReceiptID)
			fmt.Fprintf(w, "       %s\n", m.Recommendation)
		}
	})
}

func formatPath(path domain.Path) string {
	var b strings.Builder
	for i, hop := range path.Hops {
		if i > 0 {
			fmt.Fprintf(&b, " -[%s]-> ", hop.RelationType)
		}
		b.WriteString(hop.ReceiptID)
	}
	return b.String()
}
