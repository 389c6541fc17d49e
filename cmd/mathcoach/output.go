package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/mathcoach/internal/pipeline"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// writeValue renders v as indented JSON or YAML.
func writeValue(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

// writeResult renders a query result. The text form prints the transcript
// on success and the error message otherwise.
func writeResult(w io.Writer, format string, res pipeline.Result) error {
	if format != formatText {
		return writeValue(w, format, res)
	}
	if !res.Success {
		fmt.Fprintln(w, colorize(colorRed, res.Error))
		if res.SessionID != "" {
			fmt.Fprintf(w, "Session: %s\n", res.SessionID)
		}
		return nil
	}
	fmt.Fprintln(w, res.Response)
	fmt.Fprintf(w, "\nSession: %s (query #%d)\n", colorize(colorCyan, res.SessionID), res.TotalQueries)
	return nil
}
