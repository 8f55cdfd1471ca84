package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// EnvVar names the environment variable holding a log spec.
const EnvVar = "FRAMEGRABBER_LOG"

// Format is the output format of a logger.
type Format string

const (
	// FormatAuto picks text on a terminal and JSON otherwise.
	FormatAuto Format = ""
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat parses "text", "json" or "auto".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatAuto, fmt.Errorf("unknown log format: %q", s)
}

// Options configures New. Specs are consulted in the order CLISpec,
// EnvSpec, ConfigSpec; the first non-empty one wins.
type Options struct {
	CLISpec    string
	EnvSpec    string
	ConfigSpec string
	Format     Format
	// Output defaults to os.Stderr.
	Output io.Writer
}

// New returns a logger filtered by the selected spec.
func New(opts Options) (*slog.Logger, error) {
	raw := opts.ConfigSpec
	if opts.EnvSpec != "" {
		raw = opts.EnvSpec
	}
	if opts.CLISpec != "" {
		raw = opts.CLISpec
	}

	spec, err := ParseSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid log spec: %w", err)
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	// The filter decides; the inner handler accepts everything.
	hopts := &slog.HandlerOptions{Level: LevelTrace.Slog()}

	var inner slog.Handler
	switch resolveFormat(opts.Format, out) {
	case FormatJSON:
		inner = slog.NewJSONHandler(out, hopts)
	default:
		inner = slog.NewTextHandler(out, hopts)
	}
	return slog.New(NewFilteringHandler(inner, &spec)), nil
}

func resolveFormat(f Format, out io.Writer) Format {
	if f != FormatAuto {
		return f
	}
	if file, ok := out.(*os.File); ok && (isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())) {
		return FormatText
	}
	return FormatJSON
}

// FromEnv returns a logger configured from EnvVar.
func FromEnv() (*slog.Logger, error) {
	return New(Options{EnvSpec: os.Getenv(EnvVar)})
}
