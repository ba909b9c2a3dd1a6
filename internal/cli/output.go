package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a receipt failed verification or a query found nothing valid
	ExitCommandError = 2 // bad flags, unreadable files, ledger errors
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns ExitFailure for errors that carry no code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// printer renders results as indented JSON or through a text callback.
type printer struct {
	format  string
	out     io.Writer
	errOut  io.Writer
	verbose bool
}

func newPrinter(opts *RootOptions, out, errOut io.Writer) *printer {
	return &printer{format: opts.Format, out: out, errOut: errOut, verbose: opts.Verbose}
}

func (p *printer) emit(v any, text func(w io.Writer)) error {
	if p.format == "json" {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(p.out)
	return nil
}

func (p *printer) logf(format string, args ...any) {
	if !p.verbose {
		return
	}
	fmt.Fprintf(p.errOut, format+"\n", args...)
}

// writeOutput writes payload to path, or to w when path is empty.
func writeOutput(w io.Writer, path string, payload []byte) error {
	if path == "" {
		if _, err := w.Write(payload); err != nil {
			return err
		}
		_, err := fmt.Fprintln(w)
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

// readInput reads path, with "-" meaning r.
func readInput(r io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(r)
	}
	return os.ReadFile(path)
}
