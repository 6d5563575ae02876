package delta

import (
	"encoding/json"
	"fmt"
)

// Op identifies the kind of mutation an update carries.
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// Update is a single keyed mutation of a channel's state.
// Sequence position and count travel on the envelope, not here.
type Update struct {
	Op    Op              `json:"op"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Batch is an ordered list of updates sharing one envelope.
type Batch []Update

// Validate checks structural constraints before an update reaches
// the sync core.
func (u Update) Validate() error {
	switch u.Op {
	case OpPut:
		if len(u.Value) == 0 {
			return fmt.Errorf("put update for %q has no value", u.Key)
		}
	case OpDelete:
	default:
		return fmt.Errorf("unknown op %q", u.Op)
	}
	if u.Key == "" {
		return fmt.Errorf("update has empty key")
	}
	return nil
}

// Validate checks every update in the batch.
func (b Batch) Validate() error {
	for i, u := range b {
		if err := u.Validate(); err != nil {
			return fmt.Errorf("update %d: %w", i, err)
		}
	}
	return nil
}
