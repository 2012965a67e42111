package bridge

import (
	"context"
	"testing"
	"time"
)

func TestStatusRelay_UpdatesRobotAndOrder(t *testing.T) {
	store := newMemStore()
	store.root["orders"] = map[string]any{
		"o1": map[string]any{"status": "waiting", "burger": map[string]any{"name": "X"}, "timestamp": 1.0},
	}
	r := NewStatusRelay(store, time.Second)

	r.Handle(context.Background(), []byte(`{"status":"idle","order_id":"o1"}`))

	if got := store.root["robot_status"]; got != "idle" {
		t.Errorf("robot_status = %v, want idle", got)
	}
	order := store.root["orders"].(map[string]any)["o1"].(map[string]any)
	if order["status"] != "idle" {
		t.Errorf("order status = %v, want idle", order["status"])
	}
	if order["timestamp"] != 1.0 {
		t.Errorf("order timestamp = %v, want untouched 1", order["timestamp"])
	}
	if burger := order["burger"].(map[string]any); burger["name"] != "X" {
		t.Errorf("order burger = %v, want untouched", burger)
	}
}

func TestStatusRelay_Cases(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantRobot   any
		wantOrderO1 any
	}{
		{
			name:        "status only",
			payload:     `{"status":"cooking"}`,
			wantRobot:   "cooking",
			wantOrderO1: "waiting",
		},
		{
			name:        "missing status defaults to idle",
			payload:     `{}`,
			wantRobot:   "idle",
			wantOrderO1: "waiting",
		},
		{
			name:        "order id without status leaves order alone",
			payload:     `{"order_id":"o1"}`,
			wantRobot:   "idle",
			wantOrderO1: "waiting",
		},
		{
			name:        "path-like order id rejected",
			payload:     `{"status":"done","order_id":"o1/../x"}`,
			wantRobot:   "done",
			wantOrderO1: "waiting",
		},
		{
			name:        "malformed json dropped",
			payload:     `not json`,
			wantRobot:   nil,
			wantOrderO1: "waiting",
		},
		{
			name:        "non-string status dropped",
			payload:     `{"status":5}`,
			wantRobot:   nil,
			wantOrderO1: "waiting",
		},
		{
			name:        "order update",
			payload:     `{"status":"complete","order_id":"o1"}`,
			wantRobot:   "complete",
			wantOrderO1: "complete",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.root["orders"] = map[string]any{"o1": map[string]any{"status": "waiting"}}
			r := NewStatusRelay(store, time.Second)

			r.Handle(context.Background(), []byte(tt.payload))

			if got := store.root["robot_status"]; got != tt.wantRobot {
				t.Errorf("robot_status = %v, want %v", got, tt.wantRobot)
			}
			order := store.root["orders"].(map[string]any)["o1"].(map[string]any)
			if order["status"] != tt.wantOrderO1 {
				t.Errorf("order status = %v, want %v", order["status"], tt.wantOrderO1)
			}
		})
	}
}

func TestStatusRelay_FailuresSwallowed(t *testing.T) {
	store := newMemStore()
	store.failSet = true
	store.failUpd = true
	r := NewStatusRelay(store, time.Second)

	// must not panic or block
	r.Handle(context.Background(), []byte(`{"status":"error","order_id":"o1"}`))

	if _, ok := store.root["robot_status"]; ok {
		t.Error("robot_status should not be written when Set fails")
	}
}

func TestStatusRelay_OrderUpdateDespiteRobotStatusFailure(t *testing.T) {
	store := newMemStore()
	store.failSet = true
	store.root["orders"] = map[string]any{"o1": map[string]any{"status": "waiting"}}
	r := NewStatusRelay(store, time.Second)

	r.Handle(context.Background(), []byte(`{"status":"complete","order_id":"o1"}`))

	order := store.root["orders"].(map[string]any)["o1"].(map[string]any)
	if order["status"] != "complete" {
		t.Errorf("order status = %v, want complete", order["status"])
	}
}
