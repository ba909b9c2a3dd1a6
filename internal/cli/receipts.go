package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"certnode/internal/domain"
	"certnode/internal/graph"
	cryptoinfra "certnode/internal/infra/crypto"
	"certnode/internal/usecase"
)

type SignOptions struct {
	*RootOptions
	Domain      string
	Data        string
	Parents     []string
	Relation    string
	Description string
	CreatedBy   string
	Out         string
	Asset       string
	MediaType   string
}

func NewSignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SignOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a receipt and record it in the ledger",
		Long: `Sign a receipt over a JSON data document and link it under its parents.
The key at --key is created on first use.

Examples:
  certnode sign --domain transaction --data payment.json
  certnode sign --domain content --asset photo.png --media-type image/png --parent <id> --relation evidences
  echo '{"event_type":"delivery"}' | certnode sign --domain operations --data - --out receipt.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSign(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Domain, "domain", "", "receipt domain: transaction, content or operations (required)")
	_ = cmd.MarkFlagRequired("domain")
	cmd.Flags().StringVar(&opts.Data, "data", "", "path to the JSON data document, - for stdin")
	cmd.Flags().StringVar(&opts.Asset, "asset", "", "content receipts: hash this file into data.asset_hash")
	cmd.Flags().StringVar(&opts.MediaType, "media-type", "", "media type of --asset; JSON and text are canonicalized before hashing")
	cmd.Flags().StringSliceVar(&opts.Parents, "parent", nil, "parent receipt id (repeatable)")
	cmd.Flags().StringVar(&opts.Relation, "relation", string(domain.RelationReferences), "relation from each parent")
	cmd.Flags().StringVar(&opts.Description, "description", "", "relationship description")
	cmd.Flags().StringVar(&opts.CreatedBy, "created-by", "", "relationship author")
	cmd.Flags().StringVar(&opts.Out, "out", "", "also write the signed envelope to this file")

	return cmd
}

func runSign(opts *SignOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	p := newPrinter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	d := domain.ReceiptDomain(opts.Domain)
	raw, err := signData(opts, cmd.InOrStdin(), d)
	if err != nil {
		return err
	}
	data, err := domain.DecodePayload(d, raw)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid data", err)
	}

	sess, err := openSession(ctx, opts.RootOptions, p, true)
	if err != nil {
		return err
	}
	defer sess.Close()

	view, err := sess.svc.CreateReceipt(ctx, usecase.CreateReceiptRequest{
		Domain:       d,
		Data:         data,
		ParentIDs:    opts.Parents,
		RelationType: domain.RelationType(opts.Relation),
		Description:  opts.Description,
		CreatedBy:    opts.CreatedBy,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to sign receipt", err)
	}
	if opts.Out != "" {
		payload, err := json.MarshalIndent(view.Envelope, "", "  ")
		if err != nil {
			return err
		}
		if err := writeOutput(cmd.OutOrStdout(), opts.Out, payload); err != nil {
			return WrapExitError(ExitCommandError, "failed to write envelope", err)
		}
	}
	return p.emit(view, func(w io.Writer) { printReceipt(w, view) })
}

// signData reads the data document and, for content receipts with --asset,
// fills asset_hash and media_type from the asset file.
func signData(opts *SignOptions, stdin io.Reader, d domain.ReceiptDomain) ([]byte, error) {
	if opts.Data == "" && opts.Asset == "" {
		return nil, NewExitError(ExitCommandError, "one of --data or --asset is required")
	}
	raw := []byte("{}")
	if opts.Data != "" {
		var err error
		if raw, err = readInput(stdin, opts.Data); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read data", err)
		}
	}
	if opts.Asset == "" {
		return raw, nil
	}
	if d != domain.DomainContent {
		return nil, NewExitError(ExitCommandError, "--asset applies to content receipts only")
	}
	asset, err := os.ReadFile(opts.Asset)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read asset", err)
	}
	hash, err := cryptoinfra.AssetHash(opts.MediaType, asset)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to hash asset", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid data", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["asset_hash"] = hash
	if opts.MediaType != "" {
		fields["media_type"] = opts.MediaType
	}
	return json.Marshal(fields)
}

type ImportOptions struct {
	*RootOptions
	Relation string
}

func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <envelope.json>...",
		Short: "Verify and record externally signed receipts",
		Long: `Verify envelopes signed elsewhere and record them in the ledger. Parents
named in a signed payload must already be present, so import files in
issuance order.

Examples:
  certnode import --jwks issuer-jwks.json a.json b.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, cmd, args)
		},
	}

	cmd.Flags().StringVar(&opts.Relation, "relation", string(domain.RelationReferences), "relation from each signed parent")

	return cmd
}

func runImport(opts *ImportOptions, cmd *cobra.Command, files []string) error {
	ctx := context.Background()
	p := newPrinter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	sess, err := openSession(ctx, opts.RootOptions, p, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	views := make([]domain.ReceiptView, 0, len(files))
	for _, file := range files {
		env, err := readEnvelope(cmd.InOrStdin(), file)
		if err != nil {
			return err
		}
		view, err := sess.svc.Import(ctx, env, domain.RelationType(opts.Relation))
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("import %s", file), err)
		}
		views = append(views, view)
	}
	return p.emit(views, func(w io.Writer) {
		for _, v := range views {
			printReceipt(w, v)
		}
	})
}

type LinkOptions struct {
	*RootOptions
	Parent      string
	Child       string
	Relation    string
	Description string
	CreatedBy   string
}

func NewLinkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LinkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Add a relationship between two recorded receipts",
		Long: `Add a typed parent to child relationship. Links that would create a
cycle, duplicate an existing relationship or point a receipt at itself are
rejected.

Examples:
  certnode link --parent <id> --child <id> --relation fulfills`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLink(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Parent, "parent", "", "parent receipt id (required)")
	_ = cmd.MarkFlagRequired("parent")
	cmd.Flags().StringVar(&opts.Child, "child", "", "child receipt id (required)")
	_ = cmd.MarkFlagRequired("child")
	cmd.Flags().StringVar(&opts.Relation, "relation", "", "relation type (required)")
	_ = cmd.MarkFlagRequired("relation")
	cmd.Flags().StringVar(&opts.Description, "description", "", "relationship description")
	cmd.Flags().StringVar(&opts.CreatedBy, "created-by", "", "relationship author")

	return cmd
}

func runLink(opts *LinkOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	p := newPrinter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	relation, err := domain.ParseRelationType(opts.Relation)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid relation", err)
	}
	sess, err := openSession(ctx, opts.RootOptions, p, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	rel, err := sess.svc.Link(ctx, graph.LinkRequest{
		ParentID:     opts.Parent,
		ChildID:      opts.Child,
		RelationType: relation,
		Description:  opts.Description,
		CreatedBy:    opts.CreatedBy,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "link rejected", err)
	}
	return p.emit(rel, func(w io.Writer) {
		fmt.Fprintf(w, "%s -[%s]-> %s\n", rel.ParentReceiptID, rel.RelationType, rel.ChildReceiptID)
	})
}

func readEnvelope(r io.Reader, path string) (domain.Envelope, error) {
	raw, err := readInput(r, path)
	if err != nil {
		return domain.Envelope{}, WrapExitError(ExitCommandError, fmt.Sprintf("read %s", path), err)
	}
	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Envelope{}, WrapExitError(ExitCommandError, fmt.Sprintf("decode %s", path), err)
	}
	return env, nil
}

func printReceipt(w io.Writer, v domain.ReceiptView) {
	fmt.Fprintf(w, "%s\n", v.ID)
	fmt.Fprintf(w, "  domain: %s\n", v.Domain)
	fmt.Fprintf(w, "  kid:    %s\n", v.KID)
	fmt.Fprintf(w, "  depth:  %d\n", v.GraphDepth)
	fmt.Fprintf(w, "  trust:  %.2f %s\n", v.TrustScore, v.TrustLevel)
}
