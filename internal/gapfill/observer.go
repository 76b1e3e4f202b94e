package gapfill

import (
	"go.uber.org/zap"

	"github.com/Tiliavir/timesync/internal/model"
)

// State is the visual state of a missing entry during creation.
type State string

const (
	StatePending  State = "pending"
	StateCreating State = "creating"
	StateCreated  State = "created"
	StateFailed   State = "failed"
)

// Observer receives progress notifications. It may be called concurrently
// for different entries and is never required for correctness.
type Observer interface {
	OnEntryStateChange(entry model.MissingEntry, state State)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(entry model.MissingEntry, state State)

// OnEntryStateChange calls fn.
func (fn ObserverFunc) OnEntryStateChange(entry model.MissingEntry, state State) {
	fn(entry, state)
}

func (f *Filler) notify(entry model.MissingEntry, state State) {
	if f.opts.Observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			f.log.Warn("progress observer panicked",
				zap.String("entry", entry.Key()),
				zap.String("state", string(state)),
				zap.Any("panic", r))
		}
	}()
	f.opts.Observer.OnEntryStateChange(entry, state)
}
