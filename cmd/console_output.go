package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// DebugEnv enables stack traces and the full event dump in console output
const DebugEnv = "POMA_DEBUG"

// ConsoleWriter turns zerolog's JSON events into coloured, human readable lines
type ConsoleWriter struct {
	out    io.Writer
	color  bool
	buffer strings.Builder
	lock   sync.Mutex
}

// NewConsoleWriter returns a writer printing to out. Colours are stripped if color is false.
func NewConsoleWriter(out io.Writer, color bool) *ConsoleWriter {
	return &ConsoleWriter{out: out, color: color}
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	switch evt["level"] {
	case "fatal", "error":
		w.buffer.WriteString("[red]")
	case "warn":
		w.buffer.WriteString("[yellow]")
	case "debug", "trace":
		w.buffer.WriteString("[blue]")
	default:
		w.buffer.WriteString("[green]")
	}

	if task, ok := evt["task"].(string); ok {
		w.buffer.WriteString(task)
		if step, ok := evt["step"].(string); ok {
			w.buffer.WriteString(" (" + step + ")")
		}
		w.buffer.WriteString(": ")
	}

	if evt["level"] == "error" {
		w.buffer.WriteString("Error: ")
	}

	msg, _ := evt["message"].(string)
	if path, ok := evt["path"].(string); ok {
		relPath, err := filepath.Rel(".", path)
		if err == nil {
			msg = strings.ReplaceAll(msg, path, relPath)
		}
	}
	w.buffer.WriteString(msg)

	for _, field := range []string{"files", "size", "saved"} {
		if value, ok := evt[field]; ok {
			w.buffer.WriteString(fmt.Sprintf(" [dim]%s=%v[reset]", field, value))
		}
	}

	if errorDetails, ok := evt["error"]; ok {
		w.buffer.WriteString("\n[red]")
		w.buffer.WriteString(fmt.Sprint(errorDetails))
	}

	if os.Getenv(DebugEnv) != "" {
		w.buffer.WriteString("\n")
		names := make([]string, 0, len(evt))
		for name := range evt {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", name, evt[name]))
		}
	}

	w.buffer.WriteString("[reset]\n")

	colorize := colorstring.Colorize{
		Colors:  colorstring.DefaultColors,
		Disable: !w.color,
		Reset:   w.color,
	}
	_, err = io.WriteString(w.out, colorize.Color(w.buffer.String()))
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, os.Getenv(DebugEnv) != "")
	}
}
