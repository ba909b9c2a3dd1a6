package cli

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"certnode/internal/domain"
	cryptoinfra "certnode/internal/infra/crypto"
	"certnode/internal/infra/keys/soft"
)

type KeygenOptions struct {
	*RootOptions
	Alg   string
	Force bool
}

type keygenResult struct {
	Path string          `json:"path"`
	KID  string          `json:"kid"`
	Alg  string          `json:"alg"`
	JWK  cryptoinfra.JWK `json:"jwk"`
}

func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key",
		Long: `Generate a PKCS#8 PEM signing key at --key. The kid is the RFC 7638
thumbprint of the public key.

Examples:
  certnode keygen --key issuer.pem
  certnode keygen --key issuer.pem --alg EdDSA`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Alg, "alg", domain.AlgES256, "signature algorithm (ES256|EdDSA)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing key file")

	return cmd
}

func runKeygen(opts *KeygenOptions, cmd *cobra.Command) error {
	p := newPrinter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if _, err := os.Stat(opts.KeyFile); err == nil && !opts.Force {
		return NewExitError(ExitCommandError, fmt.Sprintf("key file %s exists; use --force to replace it", opts.KeyFile))
	}

	var signer domain.Signer
	switch strings.ToUpper(opts.Alg) {
	case strings.ToUpper(domain.AlgES256):
		s, err := cryptoinfra.GenerateECDSASigner()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to generate key", err)
		}
		signer = s
	case strings.ToUpper(domain.AlgEdDSA):
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to generate key", err)
		}
		s, err := cryptoinfra.NewEd25519Signer(priv, "")
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to generate key", err)
		}
		signer = s
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unsupported algorithm %q", opts.Alg))
	}

	pemBytes, err := soft.EncodePrivateKeyPEM(signer)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode key", err)
	}
	if dir := filepath.Dir(opts.KeyFile); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return WrapExitError(ExitCommandError, "failed to create key directory", err)
		}
	}
	if err := os.WriteFile(opts.KeyFile, pemBytes, 0o600); err != nil {
		return WrapExitError(ExitCommandError, "failed to write key", err)
	}

	jwk, err := cryptoinfra.PublicJWK(signer.Public(), signer.KID())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to export public key", err)
	}
	result := keygenResult{Path: opts.KeyFile, KID: signer.KID(), Alg: signer.Algorithm(), JWK: jwk}
	return p.emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "wrote %s\n", result.Path)
		fmt.Fprintf(w, "  alg: %s\n", result.Alg)
		fmt.Fprintf(w, "  kid: %s\n", result.KID)
	})
}

type JWKSOptions struct {
	*RootOptions
	Out string
}

func NewJWKSCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JWKSOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "jwks",
		Short: "Export the public key as a JWKS document",
		Long: `Export the public half of --key as a JWKS document that verifiers can
pass to --jwks or serve at /.well-known/jwks.json.

Examples:
  certnode jwks --key issuer.pem
  certnode jwks --key issuer.pem --out jwks.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJWKS(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Out, "out", "", "write the document to a file instead of stdout")

	return cmd
}

func runJWKS(opts *JWKSOptions, cmd *cobra.Command) error {
	data, err := os.ReadFile(opts.KeyFile)
	if errors.Is(err, os.ErrNotExist) {
		return NewExitError(ExitCommandError, fmt.Sprintf("key file %s not found; run certnode keygen first", opts.KeyFile))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read key", err)
	}
	signer, err := soft.ParsePrivateKeyPEM(data, "")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to parse key", err)
	}
	set, err := soft.NewManager(signer).JWKS()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to export jwks", err)
	}
	payload, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), opts.Out, payload)
}
