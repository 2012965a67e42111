package bridge

import (
	"encoding/json"
	"fmt"
)

// Remote store paths.
const (
	PathOrders          = "orders"
	PathEmergencyStop   = "emergency_stop"
	PathRecoveryCommand = "recovery_command"
	PathRobotStatus     = "robot_status"
)

// Order status values the bridge cares about.
const (
	OrderStatusWaiting = "waiting"
	RobotStatusIdle    = "idle"
)

// StopCommandValue is the only command value that triggers an emergency stop.
const StopCommandValue = "stop"

// Order is a well-formed entry of the orders collection.
type Order struct {
	ID        string
	Burger    any // opaque, relayed verbatim
	Status    string
	Timestamp any // opaque, relayed verbatim
}

// BurgerName returns the burger's display name for logging.
func (o Order) BurgerName() string {
	if b, ok := o.Burger.(map[string]any); ok {
		if name, ok := b["name"].(string); ok && name != "" {
			return name
		}
	}
	return "unknown"
}

// StopCommand is a well-formed emergency_stop record.
type StopCommand struct {
	Token Token
}

// RecoveryCommand is a well-formed recovery_command record.
type RecoveryCommand struct {
	Command string
	Token   Token
}

// Token is an opaque change marker. Only equality is meaningful.
type Token string

// TokenOf canonicalizes a timestamp value into a Token.
// A missing timestamp yields the empty-string token.
func TokenOf(v any) Token {
	if v == nil {
		return Token(`""`)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Token(fmt.Sprint(v))
	}
	return Token(b)
}

// ParseOrder validates one orders entry. ok is false for malformed entries:
// non-mapping values and entries without a string status.
func ParseOrder(id string, raw any) (Order, bool) {
	m, ok := raw.(map[string]any)
	if !ok || id == "" {
		return Order{}, false
	}
	status, ok := m["status"].(string)
	if !ok {
		return Order{}, false
	}
	return Order{
		ID:        id,
		Burger:    m["burger"],
		Status:    status,
		Timestamp: m["timestamp"],
	}, true
}

// ParseStop validates the emergency_stop record. Records whose command is not
// "stop" are reported as not ok.
func ParseStop(raw any) (StopCommand, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return StopCommand{}, false
	}
	if cmd, _ := m["command"].(string); cmd != StopCommandValue {
		return StopCommand{}, false
	}
	return StopCommand{Token: TokenOf(m["timestamp"])}, true
}

// ParseRecovery validates the recovery_command record. The command content is
// not inspected beyond being a string.
func ParseRecovery(raw any) (RecoveryCommand, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return RecoveryCommand{}, false
	}
	cmd, ok := m["command"].(string)
	if !ok {
		return RecoveryCommand{}, false
	}
	return RecoveryCommand{Command: cmd, Token: TokenOf(m["timestamp"])}, true
}

// OrderMessage is the payload published on the order topic.
type OrderMessage struct {
	OrderID   string `json:"order_id"`
	Burger    any    `json:"burger"`
	Status    string `json:"status"`
	Timestamp any    `json:"timestamp"`
}

// EncodeOrder builds the outbound order payload.
func EncodeOrder(o Order) ([]byte, error) {
	b, err := json.Marshal(OrderMessage{
		OrderID:   o.ID,
		Burger:    o.Burger,
		Status:    o.Status,
		Timestamp: o.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding order %s: %w", o.ID, err)
	}
	return b, nil
}

// StatusUpdate is the inbound robot status message. A message whose status
// or order_id is not a string fails to decode and is dropped whole.
type StatusUpdate struct {
	Status  *string `json:"status"`
	OrderID *string `json:"order_id"`
}
