// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records agent lifecycle events into a queryable store.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jllopis/waspnest/pkg/hooks"
	"github.com/jllopis/waspnest/pkg/schema"
)

// Entry is one recorded lifecycle notification.
type Entry struct {
	RunID     string
	Agent     string
	Skill     string
	Step      int
	Point     hooks.Point
	Status    hooks.RunStatus
	StateType string
	Payload   any
	Error     string
	At        time.Time
}

// Store persists audit entries.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

// Filter limits audit queries. Zero fields match everything.
type Filter struct {
	RunID string
	Skill string
	Point hooks.Point
	Limit int
}

func (f Filter) match(e Entry) bool {
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if f.Skill != "" && e.Skill != f.Skill {
		return false
	}
	if f.Point != "" && e.Point != f.Point {
		return false
	}
	return true
}

// FromEvent converts a hook event into an entry.
func FromEvent(ev hooks.Event) Entry {
	e := Entry{
		RunID:  ev.RunID,
		Agent:  ev.Agent,
		Skill:  ev.Skill,
		Step:   ev.Step,
		Point:  ev.Point,
		Status: ev.Status,
		At:     normalizeTime(ev.Time),
	}
	if !ev.State.IsZero() {
		e.StateType = schema.TypeName(ev.State.Type())
		e.Payload = ev.State.Data()
	}
	if ev.Err != nil {
		e.Error = ev.Err.Error()
	}
	return e
}

// Register records every lifecycle event of reg into store. A failing store
// is reported to the registry and handled by its failure policy.
func Register(reg *hooks.Registry, store Store) error {
	return reg.OnAll(func(ctx context.Context, ev hooks.Event) error {
		return store.Record(ctx, FromEvent(ev))
	})
}

// MemoryStore keeps entries in memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends an entry.
func (s *MemoryStore) Record(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// List returns the entries matching filter in recording order.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !filter.match(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("null"), nil
	}
	return json.Marshal(payload)
}

func decodePayload(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
