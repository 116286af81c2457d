package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/dnyoussef/hooklog/internal/model"
	"github.com/spf13/cobra"
)

// filterFlags holds the entry filter flags shared by several commands.
type filterFlags struct {
	agent       string
	correlation string
	since       string
	until       string
	limit       int
	expr        string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.agent, "agent", "", "only entries from this agent name")
	fs.StringVar(&f.correlation, "correlation", "", "only entries with this correlation id")
	fs.StringVar(&f.since, "since", "", "start time (RFC3339) or a duration ago, e.g. 2h")
	fs.StringVar(&f.until, "until", "", "end time (RFC3339) or a duration ago")
	fs.IntVar(&f.limit, "limit", 0, "maximum number of entries (default 100)")
	fs.StringVar(&f.expr, "expr", "", `CEL filter, e.g. 'metrics.cost > 0.5 && agent.role == "reviewer"'`)
}

// filter builds a model.Filter; the level comes from the global --level flag.
func (f *filterFlags) filter(now time.Time) (model.Filter, error) {
	out := model.Filter{
		Level:         levelFlag,
		AgentName:     f.agent,
		CorrelationID: f.correlation,
		Limit:         f.limit,
		Expr:          f.expr,
	}
	var err error
	if out.StartTime, err = parseWhen(f.since, now); err != nil {
		return out, fmt.Errorf("--since: %w", err)
	}
	if out.EndTime, err = parseWhen(f.until, now); err != nil {
		return out, fmt.Errorf("--until: %w", err)
	}
	return out, nil
}

// parseWhen accepts an RFC3339 timestamp or a duration meaning "that long
// before now". Empty means unbounded.
func parseWhen(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 time or duration, got %q", s)
	}
	return now.Add(-d), nil
}
