package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/dnyoussef/hooklog/internal/model"
)

// Renderer writes LogEntry values to an output stream.
type Renderer interface {
	Render(entry model.LogEntry) error
}

// ---------------------------------------------------------------------------
// Text Renderer (colorized terminal output)
// ---------------------------------------------------------------------------

var (
	styleInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	styleDebug = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Faint(true)
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))            // yellow
	styleError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true) // red bold
	styleFatal = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("196")).
			Bold(true) // white on red
	styleAgent = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Faint(true) // cyan
	styleDim   = lipgloss.NewStyle().Faint(true)
)

// TextRenderer prints entries as one human-readable line each.
type TextRenderer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTextRenderer returns a Renderer that writes colorized text to w, or to
// stdout when w is nil.
func NewTextRenderer(w io.Writer) *TextRenderer {
	if w == nil {
		w = os.Stdout
	}
	return &TextRenderer{w: w}
}

func (r *TextRenderer) Render(entry model.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := fmt.Fprintln(r.w, FormatText(entry))
	return err
}

// FormatText renders entry as a single colorized line.
func FormatText(entry model.LogEntry) string {
	var b strings.Builder
	b.WriteString(entry.Timestamp.Local().Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(StyleLevelTag(entry.Level))
	b.WriteByte(' ')
	b.WriteString(styleAgent.Render("[" + entry.AgentName() + "]"))
	b.WriteByte(' ')
	b.WriteString(entry.Message)

	var extras []string
	if op := entry.Execution.Operation; op != "" {
		extras = append(extras, "op="+op)
	}
	if id := entry.Execution.CorrelationID; id != "" {
		extras = append(extras, "corr="+shortID(id))
	}
	keys := make([]string, 0, len(entry.Metrics))
	for k := range entry.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		extras = append(extras, fmt.Sprintf("%s=%g", k, entry.Metrics[k]))
	}
	if entry.RBAC != nil {
		extras = append(extras, "rbac="+entry.RBAC.Decision+":"+entry.RBAC.PermissionChecked)
	}
	if len(extras) > 0 {
		b.WriteByte(' ')
		b.WriteString(styleDim.Render(strings.Join(extras, " ")))
	}
	if entry.Error != nil {
		b.WriteString("\n    ")
		b.WriteString(styleError.Render(entry.Error.Name + ": " + entry.Error.Message))
		if entry.Error.Stack != "" {
			b.WriteString("\n")
			b.WriteString(styleDim.Render(indent(entry.Error.Stack, "    ")))
		}
	}
	return b.String()
}

// StyleLevelTag returns the padded, colored level name.
func StyleLevelTag(level model.Level) string {
	padded := fmt.Sprintf("%-5s", level.String())
	switch level {
	case model.LevelDebug:
		return styleDebug.Render(padded)
	case model.LevelWarn:
		return styleWarn.Render(padded)
	case model.LevelError:
		return styleError.Render(padded)
	case model.LevelFatal:
		return styleFatal.Render(padded)
	default:
		return styleInfo.Render(padded)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := range lines {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}

// ---------------------------------------------------------------------------
// JSON Renderer (structured output for piping)
// ---------------------------------------------------------------------------

// JSONRenderer prints each log entry as a single JSON object per line.
type JSONRenderer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONRenderer returns a Renderer that writes JSON lines to w, or to
// stdout when w is nil.
func NewJSONRenderer(w io.Writer) *JSONRenderer {
	if w == nil {
		w = os.Stdout
	}
	return &JSONRenderer{enc: json.NewEncoder(w)}
}

func (r *JSONRenderer) Render(entry model.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(entry)
}

// NewRenderer picks a renderer by name: "json" or anything else for text.
func NewRenderer(format string, w io.Writer) Renderer {
	if strings.EqualFold(format, "json") {
		return NewJSONRenderer(w)
	}
	return NewTextRenderer(w)
}
