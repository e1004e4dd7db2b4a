// Package diagnostics implements C10: structured, source-mapped error
// reporting. Every other stage pushes into a Sink rather than returning a Go
// error for user-facing problems, so a single compilation can report as many
// errors as possible (§4.10).
package diagnostics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Severity of a diagnostic.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Span is a byte-range location in a registration site's source file, used for
// "the X was registered here" style primary/secondary annotations.
type Span struct {
	File       string
	Line       int
	Column     int
	ByteStart  int
	ByteEnd    int
	AnnotLabel string
}

// Suggestion is a machine-applicable fix, when one exists.
type Suggestion struct {
	Message     string
	Replacement string
}

// Diagnostic is one structured record, per §4.10/§6.
type Diagnostic struct {
	ID            string // assigned by Sink.Push if left blank; stable across a single Render
	Severity      Severity
	Kind          string // one of the Error kinds enumerated in §7
	Message       string
	Primary       *Span
	Secondary     []Span
	Help          string
	Suggestions   []Suggestion
	GraphRender   string // optional ASCII tree, e.g. for a cycle or a borrow conflict
}

// Sink collects diagnostics across every stage of a compilation. It is owned
// by the single pipeline object (§5); stages never see each other's sinks.
type Sink struct {
	log   *zap.Logger
	items []Diagnostic
}

func NewSink(log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{log: log}
}

// Push records a diagnostic and logs it at a level matching its severity.
// Every diagnostic is assigned a unique id on arrival (unless the caller
// already set one), so a compilation's output can be cross-referenced
// (e.g. by an IDE extension correlating a rendered diagnostic back to its
// source record) without relying on rendering order.
func (s *Sink) Push(d Diagnostic) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	s.items = append(s.items, d)
	fields := []zap.Field{zap.String("id", d.ID), zap.String("kind", d.Kind)}
	if d.Primary != nil {
		fields = append(fields, zap.String("file", d.Primary.File), zap.Int("line", d.Primary.Line))
	}
	if d.Severity == SeverityError {
		s.log.Error(d.Message, fields...)
	} else {
		s.log.Warn(d.Message, fields...)
	}
}

// Errorf is a convenience for the common "simple message, no spans" case.
func (s *Sink) Errorf(kind, format string, args ...any) {
	s.Push(Diagnostic{Severity: SeverityError, Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// HasErrors reports whether any error-severity diagnostic was pushed. Code
// generation is gated on this being false (§4.10, §7).
func (s *Sink) HasErrors() bool {
	for _, d := range s.items {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Items returns every diagnostic pushed so far, in push order.
func (s *Sink) Items() []Diagnostic {
	return append([]Diagnostic(nil), s.items...)
}

// ErrorCount and WarningCount support exit-code decisions (§6).
func (s *Sink) ErrorCount() int {
	n := 0
	for _, d := range s.items {
		if d.Severity == SeverityError {
			n++
		}
	}
	return n
}

func (s *Sink) WarningCount() int {
	return len(s.items) - s.ErrorCount()
}

// Render produces a human-readable rendering of every diagnostic, stable
// sorted by severity then file then line so output is deterministic across
// runs of the same compilation.
func (s *Sink) Render() string {
	items := append([]Diagnostic(nil), s.items...)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Severity != items[j].Severity {
			return items[i].Severity > items[j].Severity // errors first
		}
		fi, fj := "", ""
		if items[i].Primary != nil {
			fi = items[i].Primary.File
		}
		if items[j].Primary != nil {
			fj = items[j].Primary.File
		}
		if fi != fj {
			return fi < fj
		}
		li, lj := 0, 0
		if items[i].Primary != nil {
			li = items[i].Primary.Line
		}
		if items[j].Primary != nil {
			lj = items[j].Primary.Line
		}
		return li < lj
	})

	var sb strings.Builder
	for _, d := range items {
		fmt.Fprintf(&sb, "%s[%s]: %s\n", d.Severity, d.ID, d.Message)
		if d.Primary != nil {
			fmt.Fprintf(&sb, "  --> %s:%d:%d\n", d.Primary.File, d.Primary.Line, d.Primary.Column)
			if d.Primary.AnnotLabel != "" {
				fmt.Fprintf(&sb, "      %s\n", d.Primary.AnnotLabel)
			}
		}
		for _, sec := range d.Secondary {
			fmt.Fprintf(&sb, "  note: %s:%d: %s\n", sec.File, sec.Line, sec.AnnotLabel)
		}
		if d.GraphRender != "" {
			sb.WriteString(d.GraphRender)
			sb.WriteString("\n")
		}
		if d.Help != "" {
			fmt.Fprintf(&sb, "  help: %s\n", d.Help)
		}
		for _, sugg := range d.Suggestions {
			fmt.Fprintf(&sb, "  suggestion: %s\n", sugg.Message)
		}
	}
	return sb.String()
}
