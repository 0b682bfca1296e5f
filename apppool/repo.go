package apppool

import (
	"context"
	"time"
)

// Snapshot is the durable record of the pool: the binding table and the per-slot counters.
type Snapshot struct {
	Bindings    map[string]string `json:"bindings"` // userID -> slotID
	Counters    map[string]int    `json:"counters"` // slotID -> currentUsers
	LastUpdated time.Time         `json:"lastUpdated"`
}

// NewSnapshot returns an empty snapshot with initialised maps.
func NewSnapshot() Snapshot {
	return Snapshot{
		Bindings: make(map[string]string),
		Counters: make(map[string]int),
	}
}

// Clone deep-copies the snapshot maps.
func (s Snapshot) Clone() Snapshot {
	c := Snapshot{
		Bindings:    make(map[string]string, len(s.Bindings)),
		Counters:    make(map[string]int, len(s.Counters)),
		LastUpdated: s.LastUpdated,
	}
	for k, v := range s.Bindings {
		c.Bindings[k] = v
	}
	for k, v := range s.Counters {
		c.Counters[k] = v
	}
	return c
}

// Repo persists the pool snapshot. Save must replace the stored snapshot atomically:
// a reader never observes bindings from one save and counters from another.
type Repo interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snapshot Snapshot) error
}
