package output

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dnyoussef/hooklog/internal/metrics"
	"github.com/dnyoussef/hooklog/internal/model"
	"golang.org/x/time/rate"
)

// Console is the synchronous terminal sink. In pretty mode it renders the
// human-readable text line; otherwise it prints the serialized JSON line
// unchanged.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	pretty  bool
	limiter *rate.Limiter
}

// NewConsole creates a console sink writing to w, or to stdout when w is nil.
func NewConsole(w io.Writer, pretty bool) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{
		w:      w,
		pretty: pretty,
		// Failure reports are capped so a broken disk cannot flood the terminal.
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Write prints one entry.
func (c *Console) Write(entry *model.LogEntry, formatted []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.pretty {
		_, err = fmt.Fprintln(c.w, FormatText(*entry))
	} else {
		_, err = fmt.Fprintf(c.w, "%s\n", formatted)
	}
	if err != nil {
		metrics.IncSinkError("console")
	}
	return err
}

// Report prints a sink failure. Reports beyond the rate limit are counted but
// not printed.
func (c *Console) Report(component string, err error) {
	metrics.IncSinkError(component)
	if err == nil || !c.limiter.Allow() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "%s %s\n", StyleLevelTag(model.LevelError), styleDim.Render("hooklog "+component+": "+err.Error()))
}

// Reporter receives failures that a sink swallowed.
type Reporter interface {
	Report(component string, err error)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(component string, err error)

func (f ReporterFunc) Report(component string, err error) { f(component, err) }

// Discard is a Reporter that only counts failures.
var Discard Reporter = ReporterFunc(func(component string, _ error) {
	metrics.IncSinkError(component)
})
