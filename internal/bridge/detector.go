package bridge

import "iter"

// Snapshot holds the raw values read from the three polled paths. A nil
// field means the path was absent or could not be read this tick.
type Snapshot struct {
	Orders   any
	Stop     any
	Recovery any
}

// Event is one detected change. It is one of NewOrder, StopRequested or
// RecoveryRequested.
type Event interface {
	isEvent()
}

// NewOrder is a waiting order not relayed before.
type NewOrder struct {
	Order Order
}

// StopRequested is a stop command with an unseen token.
type StopRequested struct {
	Token Token
}

// RecoveryRequested is a recovery command with an unseen token.
type RecoveryRequested struct {
	Command string
	Token   Token
}

func (NewOrder) isEvent()          {}
func (StopRequested) isEvent()     {}
func (RecoveryRequested) isEvent() {}

// Detect returns the events observable in snap given the tracker state.
// It performs no I/O and does not modify t; the caller marks events as
// relayed once they have been published. Malformed or absent sources yield
// no events.
func Detect(snap Snapshot, t *Tracker) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if orders, ok := snap.Orders.(map[string]any); ok {
			for id, raw := range orders {
				if t.IsProcessed(id) {
					continue
				}
				order, ok := ParseOrder(id, raw)
				if !ok || order.Status != OrderStatusWaiting {
					continue
				}
				if !yield(NewOrder{Order: order}) {
					return
				}
			}
		}

		if stop, ok := ParseStop(snap.Stop); ok && t.LastStop().Changed(stop.Token) {
			if !yield(StopRequested{Token: stop.Token}) {
				return
			}
		}

		if rec, ok := ParseRecovery(snap.Recovery); ok && t.LastRecovery().Changed(rec.Token) {
			yield(RecoveryRequested{Command: rec.Command, Token: rec.Token})
		}
	}
}
