// Package parser turns persisted log lines back into entries.
package parser

import (
	"encoding/json"
	"time"

	"github.com/dnyoussef/hooklog/internal/model"
	"github.com/dnyoussef/hooklog/internal/query"
	"github.com/valyala/fastjson"
)

// Decoder converts JSON lines into LogEntry values. It is safe for
// concurrent use.
//
// Lines written by hooklog decode directly. Lines from other JSON loggers are
// accepted too: level may be given as "severity", message as "msg", and the
// timestamp as "time" or "ts".
type Decoder struct {
	pool fastjson.ParserPool
}

func NewDecoder() *Decoder { return &Decoder{} }

// Decode parses one line. It returns false for blank, malformed or
// non-object lines.
func (d *Decoder) Decode(line []byte) (model.LogEntry, bool) {
	return d.DecodeMatching(line, nil)
}

// DecodeMatching parses one line and applies m. The level, agent,
// correlation and time predicates run on the raw JSON first, so
// non-matching lines are rejected without a full decode.
func (d *Decoder) DecodeMatching(line []byte, m *query.Matcher) (model.LogEntry, bool) {
	if len(line) == 0 || line[0] != '{' {
		return model.LogEntry{}, false
	}

	p := d.pool.Get()
	defer d.pool.Put(p)

	v, err := p.ParseBytes(line)
	if err != nil || v.Type() != fastjson.TypeObject {
		return model.LogEntry{}, false
	}
	if m != nil && !prefilter(v, m) {
		return model.LogEntry{}, false
	}

	entry, ok := decodeValue(line, v)
	if !ok {
		return entry, false
	}
	if m != nil && !m.Match(&entry) {
		return model.LogEntry{}, false
	}
	return entry, true
}

func prefilter(v *fastjson.Value, m *query.Matcher) bool {
	if lvl, ok := m.MinLevel(); ok {
		s, _ := strField(v, "level", "severity")
		if model.ParseLevelOr(s, model.LevelInfo) < lvl {
			return false
		}
	}
	if name := m.AgentName(); name != "" && string(v.GetStringBytes("agent", "name")) != name {
		return false
	}
	if id := m.CorrelationID(); id != "" && string(v.GetStringBytes("execution", "correlation_id")) != id {
		return false
	}
	if s, ok := strField(v, "timestamp", "time", "ts"); ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil && !m.InRange(ts) {
			return false
		}
	}
	return true
}

func decodeValue(line []byte, v *fastjson.Value) (model.LogEntry, bool) {
	var entry model.LogEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return model.LogEntry{}, false
	}

	if v.Get("level") == nil {
		entry.Level = model.LevelInfo
		if s, ok := strField(v, "severity"); ok {
			entry.Level = model.ParseLevelOr(s, model.LevelInfo)
		}
	}
	if entry.Message == "" {
		if s, ok := strField(v, "msg"); ok {
			entry.Message = s
		}
	}
	if entry.Timestamp.IsZero() {
		if s, ok := strField(v, "time", "ts"); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				entry.Timestamp = t
			}
		}
	}
	entry.Agent = model.DefaultAgent(entry.Agent)
	if entry.Metrics == nil {
		entry.Metrics = model.Metrics{}
	}
	return entry, true
}

// strField returns the first non-empty string value among keys.
func strField(v *fastjson.Value, keys ...string) (string, bool) {
	for _, k := range keys {
		if b := v.GetStringBytes(k); len(b) > 0 {
			return string(b), true
		}
	}
	return "", false
}
