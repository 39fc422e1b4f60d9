// Package output formats CLI results as text, JSON or YAML.
// Structured output uses snake_case keys from the json tags.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"go.yaml.in/yaml/v3"
)

// Format represents the output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want text, json or yaml)", s)
	}
}

// Texter is implemented by values with a human-readable rendering.
type Texter interface {
	Text(s *Styles) string
}

// Writer handles formatted output.
type Writer struct {
	format Format
	out    io.Writer
	errOut io.Writer
	styles *Styles
}

// Option configures the Writer.
type Option func(*Writer)

// WithOutput sets the standard output writer.
func WithOutput(w io.Writer) Option {
	return func(wr *Writer) {
		wr.out = w
	}
}

// WithErrorOutput sets the error output writer.
func WithErrorOutput(w io.Writer) Option {
	return func(wr *Writer) {
		wr.errOut = w
	}
}

// WithColor forces colored text output on or off.
func WithColor(on bool) Option {
	return func(wr *Writer) {
		wr.styles = NewStyles(on)
	}
}

// New creates a new output writer.
func New(format Format, opts ...Option) *Writer {
	w := &Writer{
		format: format,
		out:    os.Stdout,
		errOut: os.Stderr,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.styles == nil {
		w.styles = NewStyles(IsTerminal(w.out))
	}
	return w
}

// Format returns the configured format.
func (w *Writer) Format() Format { return w.format }

// Write outputs data in the configured format.
func (w *Writer) Write(data any) error {
	switch w.format {
	case FormatJSON:
		enc := json.NewEncoder(w.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		normalized, err := normalizeForYAML(data)
		if err != nil {
			return err
		}
		b, err := yaml.Marshal(normalized)
		if err != nil {
			return err
		}
		if len(b) == 0 || b[len(b)-1] != '\n' {
			b = append(b, '\n')
		}
		_, err = w.out.Write(b)
		return err
	case FormatText:
		if t, ok := data.(Texter); ok {
			_, err := fmt.Fprintln(w.out, t.Text(w.styles))
			return err
		}
		_, err := fmt.Fprintf(w.out, "%v\n", data)
		return err
	default:
		return fmt.Errorf("unsupported format: %s", w.format)
	}
}

// WriteNDJSON outputs one compact JSON document per line in JSON mode.
func (w *Writer) WriteNDJSON(data any) error {
	switch w.format {
	case FormatJSON:
		return json.NewEncoder(w.out).Encode(data)
	case FormatText:
		return w.Write(data)
	default:
		return fmt.Errorf("unsupported format: %s", w.format)
	}
}

// Success outputs a success message.
func (w *Writer) Success(msg string) {
	if w.format == FormatJSON || w.format == FormatYAML {
		_ = w.Write(map[string]any{"status": "success", "message": msg})
		return
	}
	fmt.Fprintf(w.errOut, "%s %s\n", w.styles.Good.Render("✓"), msg)
}

// ErrorPayload is the structured form of a failed command.
type ErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error outputs an error message with an exit code hint.
func (w *Writer) Error(err error, code int) {
	payload := ErrorPayload{
		Error:   "error",
		Message: err.Error(),
		Details: map[string]any{"code": code},
	}
	if w.format == FormatJSON || w.format == FormatYAML {
		_ = w.Write(payload)
		return
	}
	fmt.Fprintf(w.errOut, "%s %s\n", w.styles.Bad.Render("✗"), err.Error())
}

// Table renders rows under headers.
func (w *Writer) Table(headers []string, rows [][]string) error {
	_, err := fmt.Fprintln(w.out, w.styles.Table(headers, rows))
	return err
}

func normalizeForYAML(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var normalized any
	if err := dec.Decode(&normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

// OutputMode is the process-wide default format for code without a Writer.
type OutputMode string

const (
	OutputModeText OutputMode = "text"
	OutputModeJSON OutputMode = "json"
)

var outputMode atomic.Value

// SetOutputMode switches the process-wide mode.
func SetOutputMode(jsonMode bool) {
	if jsonMode {
		outputMode.Store(OutputModeJSON)
		return
	}
	outputMode.Store(OutputModeText)
}

// GetOutputMode returns the process-wide mode, text when unset.
func GetOutputMode() OutputMode {
	if m, ok := outputMode.Load().(OutputMode); ok {
		return m
	}
	return OutputModeText
}

// IsJSON reports whether the process-wide mode is JSON.
func IsJSON() bool { return GetOutputMode() == OutputModeJSON }
