// Package fanout runs a group of tasks concurrently and invokes a single
// continuation once every task has reported a result.
package fanout

import (
	"context"
	"errors"
	"sort"
)

var ErrGroupComplete = errors.New("fanout: group already complete")

// Task is one unit of a group. Params must be JSON encodable.
type Task struct {
	Index    int            `json:"index"`
	Name     string         `json:"name"`
	Priority int            `json:"priority"`
	Main     bool           `json:"main,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// Plan describes a group of tasks for one entry and how to finalize it.
type Plan struct {
	GroupID    string `json:"group_id"`
	EntryID    string `json:"entry_id"`
	MediaType  string `json:"media_type"`
	Action     string `json:"action"`
	FeedURL    string `json:"feed_url,omitempty"`
	PriorState string `json:"prior_state"`
	Tasks      []Task `json:"tasks"`
}

func (p *Plan) Total() int {
	return len(p.Tasks)
}

// Header is the plan without its tasks. It travels with each task and
// with the continuation.
func (p *Plan) Header() Plan {
	h := *p
	h.Tasks = nil
	return h
}

// Result is what a task reports to the barrier. A zero Kind means success.
type Result struct {
	Index      int            `json:"index"`
	Name       string         `json:"name"`
	Main       bool           `json:"main,omitempty"`
	OK         bool           `json:"ok"`
	Kind       string         `json:"kind,omitempty"`
	Classifier string         `json:"classifier,omitempty"`
	Message    string         `json:"message,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Barrier collects results for a group. Arrive returns fire=true to
// exactly one caller per group: the one whose result completes the set.
// That caller also receives every result, ordered by task index.
type Barrier interface {
	Arrive(ctx context.Context, groupID string, total int, r Result) (results []Result, fire bool, err error)
}

func sortResults(rs []Result) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Index < rs[j].Index })
}

// MainResult returns the result flagged as main, if any.
func MainResult(rs []Result) (Result, bool) {
	for _, r := range rs {
		if r.Main {
			return r, true
		}
	}
	return Result{}, false
}
