package logger

import (
	"sync"
	"time"
)

// Problem is one aggregated warn/error occurrence collected during a run.
type Problem struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Symbol    string                 `json:"symbol,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// ProblemCollector aggregates warn/error log events for one run so the
// caller can report which symbols failed and why. Events with identical
// message and symbol are deduplicated with a counter.
type ProblemCollector struct {
	mu       sync.Mutex
	problems map[string]*Problem
}

func NewProblemCollector() *ProblemCollector {
	return &ProblemCollector{problems: make(map[string]*Problem)}
}

func (c *ProblemCollector) Add(level, message string, fields map[string]interface{}) {
	now := time.Now()
	symbol, _ := fields["symbol"].(string)
	key := level + "|" + message + "|" + symbol

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.problems[key]; ok {
		p.Count++
		p.LastSeen = now
		return
	}
	c.problems[key] = &Problem{
		Level:     level,
		Message:   message,
		Symbol:    symbol,
		Fields:    fields,
		Count:     1,
		FirstSeen: now,
		LastSeen:  now,
	}
}

// Problems returns a snapshot of collected problems.
func (c *ProblemCollector) Problems() []Problem {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Problem, 0, len(c.problems))
	for _, p := range c.problems {
		out = append(out, *p)
	}
	return out
}

// BySymbol returns the first recorded problem message per symbol.
func (c *ProblemCollector) BySymbol() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]string)
	for _, p := range c.problems {
		if p.Symbol == "" {
			continue
		}
		if _, ok := out[p.Symbol]; !ok {
			out[p.Symbol] = p.Message
		}
	}
	return out
}
