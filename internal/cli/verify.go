package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"certnode/internal/domain"
	cryptoinfra "certnode/internal/infra/crypto"
)

type VerifyOptions struct {
	*RootOptions
	IDs []string
}

type verifyEntry struct {
	Source string              `json:"source"`
	Result domain.Verification `json:"result"`
}

type verifyReport struct {
	Results []verifyEntry `json:"results"`
	Valid   int           `json:"valid"`
	Invalid int           `json:"invalid"`
}

func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify [<envelope.json>...]",
		Short: "Verify receipt envelopes",
		Long: `Verify one or more receipt envelopes. Files are checked against --jwks or
the public half of --key; --id re-verifies receipts held in the ledger.
The content hash is checked before the signature and the receipt id last.

Exits 1 when any receipt fails.

Examples:
  certnode verify --jwks issuer-jwks.json a.json b.json
  certnode verify --id <receipt-id>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd, args)
		},
	}

	cmd.Flags().StringSliceVar(&opts.IDs, "id", nil, "ledger receipt id to re-verify (repeatable)")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command, files []string) error {
	ctx := context.Background()
	p := newPrinter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if len(files) == 0 && len(opts.IDs) == 0 {
		return NewExitError(ExitCommandError, "nothing to verify: pass envelope files or --id")
	}

	var report verifyReport
	if len(files) > 0 {
		keys, err := keyProvider(opts.RootOptions)
		if err != nil {
			return err
		}
		envelopes := cryptoinfra.NewService()
		for _, file := range files {
			env, err := readEnvelope(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			result, err := envelopes.Verify(ctx, env, keys)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("verify %s", file), err)
			}
			report.add(file, result)
		}
	}
	if len(opts.IDs) > 0 {
		sess, err := openSession(ctx, opts.RootOptions, p, false)
		if err != nil {
			return err
		}
		defer sess.Close()
		for _, id := range opts.IDs {
			result, err := sess.svc.VerifyStored(ctx, id)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("verify %s", id), err)
			}
			report.add(id, result)
		}
	}

	if err := p.emit(report, func(w io.Writer) {
		for _, e := range report.Results {
			if e.Result.Valid {
				fmt.Fprintf(w, "%s  OK  %s\n", e.Source, e.Result.ReceiptID)
				continue
			}
			fmt.Fprintf(w, "%s  FAILED  %s: %s\n", e.Source, e.Result.Reason, e.Result.Detail)
		}
	}); err != nil {
		return err
	}
	if report.Invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d receipts failed verification", report.Invalid, len(report.Results)))
	}
	return nil
}

func (r *verifyReport) add(source string, result domain.Verification) {
	r.Results = append(r.Results, verifyEntry{Source: source, Result: result})
	if result.Valid {
		r.Valid++
	} else {
		r.Invalid++
	}
}
