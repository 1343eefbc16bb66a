package dag

import (
	"reflect"
	"testing"
)

func TestScheduler_ReadyTasksInRegistrationOrder(t *testing.T) {
	g := mustGraph(t, noopTask("c"), noopTask("a"), noopTask("b", "c"), noopTask("d", "a", "b"))

	state := NewExecutionState(g)
	if got := GetReadyTasks(g, state); !reflect.DeepEqual(got, []string{"c", "a"}) {
		t.Fatalf("unexpected ready set: %v", got)
	}

	state["c"] = TaskSkipped
	if got := GetReadyTasks(g, state); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected ready set: %v", got)
	}

	state["a"] = TaskDone
	state["b"] = TaskRunning
	if got := GetReadyTasks(g, state); len(got) != 0 {
		t.Fatalf("d must wait for b, got %v", got)
	}

	state["b"] = TaskDone
	if got := GetReadyTasks(g, state); !reflect.DeepEqual(got, []string{"d"}) {
		t.Fatalf("unexpected ready set: %v", got)
	}
}

func TestScheduler_FailedDependencyBlocks(t *testing.T) {
	g := mustGraph(t, noopTask("a"), noopTask("b", "a"))
	state := ExecutionState{"a": TaskFailed, "b": TaskPending}
	if got := GetReadyTasks(g, state); len(got) != 0 {
		t.Fatalf("expected nothing ready, got %v", got)
	}
	if got := GetReadyTasks(nil, state); got != nil {
		t.Fatalf("expected nil for nil graph, got %v", got)
	}
}
