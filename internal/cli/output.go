// Package cli builds the hostkit command tree and owns the output contract:
// JSON envelopes under --json, colored human output otherwise.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/hostkit-platform/hostkit/internal/domain"
)

// Formatter renders command results. JSON mode emits exactly one envelope on
// stdout; human mode prints colored text.
type Formatter struct {
	JSON bool
	Out  io.Writer
	Err  io.Writer
}

// NewFormatter creates a Formatter writing to stdout/stderr.
func NewFormatter(jsonMode bool) *Formatter {
	return &Formatter{JSON: jsonMode, Out: os.Stdout, Err: os.Stderr}
}

type successEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type errorEnvelope struct {
	Success    bool   `json:"success"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Success reports a completed operation.
func (f *Formatter) Success(message string, data any) {
	if f.JSON {
		enc := json.NewEncoder(f.Out)
		enc.SetIndent("", "  ")
		enc.Encode(successEnvelope{Success: true, Message: message, Data: data})
		return
	}
	color.New(color.FgGreen).Fprintln(f.Out, message)
}

// Error reports a typed failure.
func (f *Formatter) Error(err error) {
	code := domain.CodeOf(err)
	if code == "" {
		code = "INTERNAL_ERROR"
	}
	message := err.Error()
	suggestion := ""
	var de *domain.Error
	if errors.As(err, &de) {
		message = de.Message
		suggestion = de.Suggestion
	}

	if f.JSON {
		enc := json.NewEncoder(f.Out)
		enc.SetIndent("", "  ")
		enc.Encode(errorEnvelope{Code: string(code), Message: message, Suggestion: suggestion})
		return
	}
	color.New(color.FgRed, color.Bold).Fprintf(f.Err, "error [%s]: %s\n", code, message)
	if suggestion != "" {
		fmt.Fprintf(f.Err, "  %s\n", suggestion)
	}
}

// Printf writes human-mode text; a no-op in JSON mode so envelopes stay the
// sole stdout output.
func (f *Formatter) Printf(format string, args ...any) {
	if f.JSON {
		return
	}
	fmt.Fprintf(f.Out, format, args...)
}
