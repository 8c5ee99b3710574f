package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Log output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options describes how to build the application logger.
type Options struct {
	// Name appears in every text line and as the component of JSON lines.
	Name string
	// Format is FormatText or FormatJSON.
	Format string
	// Level is a zerolog level name (debug, info, warn, error).
	Level string
	// Out is the primary destination, stderr when nil.
	Out io.Writer
	// Tee receives a copy of every line, e.g. a log file.
	Tee []io.Writer
}

// New builds a Logger from Options.
func New(opts Options) *ZerologAdapter {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	dests := append([]io.Writer{out}, opts.Tee...)

	writers := make([]io.Writer, 0, len(dests))
	for _, d := range dests {
		if d == nil {
			continue
		}
		if opts.Format == FormatJSON {
			writers = append(writers, d)
		} else {
			writers = append(writers, ConsoleWriter(d, opts.Name))
		}
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(ParseLevel(opts.Level)).With().Timestamp()
	if opts.Format == FormatJSON && opts.Name != "" {
		ctx = ctx.Str("component", opts.Name)
	}
	return NewZerologAdapter(ctx.Logger())
}
