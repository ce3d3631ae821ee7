// Package report renders run results for humans and machines. Text mode
// prints one verdict line per case with expected-vs-actual detail under
// it; JSON mode emits the raw result document.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/sliverarmory/symscope/runner"
)

// Color modes accepted by the CLI and config file.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Styles holds the text-mode styling. The zero value renders plain.
type Styles struct {
	Pass lipgloss.Style
	Fail lipgloss.Style
	Dim  lipgloss.Style
}

func defaultStyles() Styles {
	return Styles{
		Pass: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Fail: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		Dim:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

func plainStyles() Styles {
	return Styles{}
}

// UseColor decides whether a color mode enables styling on the given
// file. Auto requires a terminal and no NO_COLOR in the environment.
func UseColor(mode string, f *os.File) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Reporter writes run results to one destination.
type Reporter struct {
	w      io.Writer
	styles Styles
}

// New returns a text reporter, styled or plain.
func New(w io.Writer, color bool) *Reporter {
	styles := plainStyles()
	if color {
		styles = defaultStyles()
	}
	return &Reporter{w: w, styles: styles}
}

// Render writes the human-readable report.
func (r *Reporter) Render(res *runner.RunResult) error {
	for i := range res.Cases {
		if err := r.renderCase(&res.Cases[i]); err != nil {
			return err
		}
	}

	summary := fmt.Sprintf("%d passed, %d failed", res.Passed, res.Failed)
	if res.Failed > 0 {
		summary = r.styles.Fail.Render(summary)
	} else {
		summary = r.styles.Pass.Render(summary)
	}
	_, err := fmt.Fprintf(r.w, "\n%s\n", summary)
	return err
}

// RenderJSON writes the result document as indented JSON.
func (r *Reporter) RenderJSON(res *runner.RunResult) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func (r *Reporter) renderCase(c *runner.CaseResult) error {
	mark := r.styles.Pass.Render("✓")
	if !c.Pass {
		mark = r.styles.Fail.Render("✗")
	}
	if _, err := fmt.Fprintf(r.w, "%s %s/%s\n", mark, c.Scenario, c.Case); err != nil {
		return err
	}

	for i := range c.Steps {
		if err := r.renderStep(&c.Steps[i]); err != nil {
			return err
		}
	}

	if c.Error != "" {
		stage := c.Stage
		if stage == "" {
			stage = "case"
		}
		line := fmt.Sprintf("    %s failed: %s", stage, c.Error)
		if c.Pass {
			line = r.styles.Dim.Render(fmt.Sprintf("    expected failure at %s: %s", stage, c.Error))
		} else {
			line = r.styles.Fail.Render(line)
		}
		if _, err := fmt.Fprintln(r.w, line); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reporter) renderStep(s *runner.StepResult) error {
	var line string
	switch {
	case !s.Pass:
		line = r.styles.Fail.Render(fmt.Sprintf("    %s %s: %s", s.Op, s.Symbol, s.Detail))
	case s.Op == "invoke" && s.Got != nil:
		call := fmt.Sprintf("%s(%s)", s.Symbol, joinArgs(s.Args))
		switch {
		case s.Want != nil:
			line = fmt.Sprintf("    %s: want %d, got %d", call, *s.Want, *s.Got)
		case s.WantNot != nil:
			line = fmt.Sprintf("    %s: got %d, want anything but %d", call, *s.Got, *s.WantNot)
		default:
			line = fmt.Sprintf("    %s: got %d", call, *s.Got)
		}
	case s.Op == "resolve":
		line = fmt.Sprintf("    resolve %s: bound to %s", s.Symbol, s.BoundLibrary)
		if s.Predicted != "" {
			line += r.styles.Dim.Render(fmt.Sprintf(" (predicted %s)", s.Predicted))
		}
	default:
		// Close steps only matter when they fail.
		return nil
	}
	_, err := fmt.Fprintln(r.w, line)
	return err
}

func joinArgs(args []int64) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = strconv.FormatInt(a, 10)
	}
	return strings.Join(parts, ", ")
}
