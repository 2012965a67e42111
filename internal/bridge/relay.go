package bridge

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"
)

// StatusRelay writes inbound robot status reports back to the remote store.
// Store failures are logged and dropped; nothing is retried.
type StatusRelay struct {
	store   RemoteStore
	timeout time.Duration
}

// NewStatusRelay creates a relay that bounds each store write by timeout.
func NewStatusRelay(store RemoteStore, timeout time.Duration) *StatusRelay {
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return &StatusRelay{store: store, timeout: timeout}
}

// Handle processes one status payload. It satisfies Handler.
func (r *StatusRelay) Handle(ctx context.Context, payload []byte) {
	var msg StatusUpdate
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("dropping malformed status update: %v", err)
		return
	}

	status := RobotStatusIdle
	if msg.Status != nil {
		status = *msg.Status
	}

	if err := r.setRobotStatus(ctx, status); err != nil {
		log.Printf("updating robot status: %v", err)
	} else {
		log.Printf("robot status updated: %s", status)
	}

	if msg.OrderID == nil {
		return
	}
	orderID := *msg.OrderID
	if !validKey(orderID) {
		log.Printf("ignoring status update for invalid order id %q", orderID)
		return
	}
	if msg.Status == nil {
		log.Printf("status update for order %s has no status, order left unchanged", orderID)
		return
	}

	if err := r.updateOrderStatus(ctx, orderID, status); err != nil {
		log.Printf("updating order %s status: %v", orderID, err)
		return
	}
	log.Printf("order %s status updated: %s", orderID, status)
}

func (r *StatusRelay) setRobotStatus(ctx context.Context, status string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.store.Set(ctx, PathRobotStatus, status)
}

func (r *StatusRelay) updateOrderStatus(ctx context.Context, orderID, status string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.store.Update(ctx, PathOrders+"/"+orderID, map[string]any{"status": status})
}

// validKey rejects empty keys and keys that would address a different path.
func validKey(key string) bool {
	return key != "" && !strings.ContainsAny(key, "/.#$[]")
}
