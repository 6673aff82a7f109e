package pipe

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI color codes for inspection output.
const (
	colorReset = "\033[0m"
	colorGray  = "\033[90m"
	colorCyan  = "\033[36m"
)

// Inspector receives the step identity and the current store before each
// step runs while inspection mode is enabled. It is purely an observation
// side channel and never affects data flow.
type Inspector interface {
	Inspect(step Name, store Store)
}

// InspectorFunc adapts a plain function to the Inspector interface.
type InspectorFunc func(step Name, store Store)

// Inspect implements the Inspector interface.
func (f InspectorFunc) Inspect(step Name, store Store) {
	f(step, store)
}

// ConsoleInspector pretty-prints step transitions to a writer with color
// support. Color output is automatically enabled when stdout is a terminal.
type ConsoleInspector struct {
	w     io.Writer
	color bool
}

// NewConsoleInspector creates a ConsoleInspector writing to stdout.
func NewConsoleInspector() *ConsoleInspector {
	return &ConsoleInspector{
		w:     os.Stdout,
		color: isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()),
	}
}

// NewConsoleInspectorWriter creates a ConsoleInspector writing to w without
// color, for capturing inspection output in tests or logs.
func NewConsoleInspectorWriter(w io.Writer) *ConsoleInspector {
	return &ConsoleInspector{w: w}
}

// Inspect implements the Inspector interface.
func (c *ConsoleInspector) Inspect(step Name, store Store) {
	if c.color {
		fmt.Fprintf(c.w, "%scurrent step ->%s %s%s%s\n", colorGray, colorReset, colorCyan, step, colorReset)
		fmt.Fprintf(c.w, "%s%s%s\n\n", colorGray, store.String(), colorReset)
		return
	}
	fmt.Fprintf(c.w, "current step -> %s\n", step)
	fmt.Fprintf(c.w, "%s\n\n", store.String())
}
