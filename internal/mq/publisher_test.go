package mq

import (
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
)

// --- Topology Tests ---

func TestTaskQueueNames(t *testing.T) {
	tests := []struct {
		priority domain.Priority
		want     Queue
	}{
		{domain.PriorityCritical, "conveyor.tasks.critical"},
		{domain.PriorityNormal, "conveyor.tasks.normal"},
		{domain.PriorityLow, "conveyor.tasks.low"},
	}

	for _, tt := range tests {
		if got := TaskQueue(tt.priority); got != tt.want {
			t.Errorf("TaskQueue(%s) = %s, want %s", tt.priority, got, tt.want)
		}
	}
}

// --- Payload Tests ---

func TestParsePayload_TaskCompleted(t *testing.T) {
	id := uuid.New()
	msg := &Message{
		Type: MessageTypeTaskCompleted,
		Payload: map[string]any{
			"task_id":  id.String(),
			"handler":  "square",
			"status":   "COMPLETED",
			"attempts": 2,
		},
	}

	p, err := ParsePayload[TaskCompletedPayload](msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TaskID != id || p.Handler != "square" || p.Attempts != 2 {
		t.Errorf("unexpected payload: %+v", p)
	}
}
