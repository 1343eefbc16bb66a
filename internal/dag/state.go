package dag

// TaskState is the runtime state of a task within one run.
//
//	PENDING -> FINGERPRINTED -> SKIPPED
//	                         -> RUNNING -> DONE | FAILED
//
// A PENDING task becomes FAILED when an upstream task fails, and NOT_RUN
// when the run halts before it is evaluated.
type TaskState string

const (
	TaskPending       TaskState = "PENDING"
	TaskFingerprinted TaskState = "FINGERPRINTED"
	TaskRunning       TaskState = "RUNNING"
	TaskDone          TaskState = "DONE"
	TaskSkipped       TaskState = "SKIPPED"
	TaskFailed        TaskState = "FAILED"
	TaskNotRun        TaskState = "NOT_RUN"
)

// ExecutionState maps task name to its current TaskState.
//
// It is a plain map so the scheduler stays a pure function of graph and
// state.
type ExecutionState map[string]TaskState

// NewExecutionState returns a state with every task PENDING.
func NewExecutionState(g *TaskGraph) ExecutionState {
	st := make(ExecutionState, len(g.nodes))
	for _, n := range g.nodes {
		st[n.Name] = TaskPending
	}
	return st
}

// Clone returns a copy of s.
func (s ExecutionState) Clone() ExecutionState {
	cp := make(ExecutionState, len(s))
	for k, v := range s {
		cp[k] = v
	}
	return cp
}

// Count returns how many tasks are in state st.
func (s ExecutionState) Count(st TaskState) int {
	n := 0
	for _, v := range s {
		if v == st {
			n++
		}
	}
	return n
}
