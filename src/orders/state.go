package orders

import (
	"fmt"
	"time"

	"newstrader/src/model"
)

var transitions = map[string]map[string]bool{
	model.OrderStateNew: {
		model.OrderStatePending:   true,
		model.OrderStateFailed:    true,
		model.OrderStateCancelled: true,
	},
	model.OrderStatePending: {
		model.OrderStateFilled:    true,
		model.OrderStateRejected:  true,
		model.OrderStateFailed:    true,
		model.OrderStateCancelled: true,
	},
}

// CanTransition reports whether an order may move from one state to another.
func CanTransition(from, to string) bool {
	return transitions[from][to]
}

// transition moves o to state and returns the previous state.
func transition(o *model.Order, to, reason string, now time.Time) (string, error) {
	from := o.State
	if !CanTransition(from, to) {
		return from, fmt.Errorf("order %s %s -> %s: %w", o.ID, from, to, ErrInvalidTransition)
	}
	o.State = to
	if reason != "" {
		o.Reason = reason
	}
	o.UpdatedAt = now
	if to == model.OrderStateFilled {
		o.ExecutedAt = &now
	}
	return from, nil
}
