// Package task defines the capability set every node in the dependency graph
// must satisfy: stable identity, completeness, dependency enumeration, local
// execution, and a placement tag telling the scheduler where it may run.
package task

import "context"

// Placement tells the scheduler where a Task is allowed to execute.
type Placement int

const (
	// Local tasks run in the master process.
	Local Placement = iota
	// Remote tasks run as a child container.
	Remote
)

func (p Placement) String() string {
	switch p {
	case Local:
		return "LOCAL"
	case Remote:
		return "REMOTE"
	default:
		return "UNKNOWN"
	}
}

// Task is one unit of work in the dependency graph.
//
// Identity must be stable across process boundaries: a Task written to shared
// storage and reconstructed by a child must report the same Identity as the
// one the master enqueued.
type Task interface {
	// Identity is a deterministic string derived from the task's type and
	// parameters. Two tasks with identical identity are the same work.
	Identity() string

	// Family is a human-readable class-of-work label, used only for logging
	// and job-name prefixes.
	Family() string

	// Dependencies returns the set of tasks this task requires be complete
	// before it can run. The transitive closure must be acyclic.
	Dependencies() []Task

	// Placement reports whether this task runs in-process or as a child job.
	Placement() Placement

	// Complete is a side-effect-free predicate. It transitions monotonically
	// from false to true over the task's lifetime and, once true, must
	// remain true.
	Complete() bool

	// Run executes the task's side effects. Only called for Local tasks; it
	// must make Complete() true on success.
	Run(ctx context.Context) error
}

// Serializable is implemented by tasks that may be dispatched Remote. It lets
// the Artifact Handoff persist a task to shared storage and lets the child
// runner reconstruct the same task from the bytes it reads back.
//
// Go has no implicit analog to Python's pickle for arbitrary interface
// values, so remote-capable tasks opt in explicitly.
type Serializable interface {
	Task

	// MarshalState returns the task's serialized state.
	MarshalState() ([]byte, error)

	// UnmarshalState restores the task's state from bytes previously
	// returned by MarshalState.
	UnmarshalState(data []byte) error
}

// Info formats a task's family and identity for logging, matching the
// "<family>_<identity>" shape the scheduler uses in every log line.
func Info(t Task) string {
	return t.Family() + "_" + t.Identity()
}

// Tunable is implemented by Remote tasks that need per-task adjustments
// (extra environment variables or resource requests) layered onto the child
// job's cloned template container. Tasks that don't need this need not
// implement it; the orchestrator treats a task that isn't Tunable the same
// as one whose ContainerOverrides is the zero value.
//
// internal/task has no dependency on any container platform's wire types,
// so these values are plain strings; turning them into a concrete
// resource.Quantity or corev1.EnvVar is the orchestrator's job.
type Tunable interface {
	Task

	// ContainerOverrides returns this task's env additions and resource
	// requests, if any.
	ContainerOverrides() ContainerOverrides
}

// ContainerOverrides carries the per-task container adjustments Tunable
// exposes.
type ContainerOverrides struct {
	// Env is merged onto the template container's environment, appended
	// after everything EnvToInherit already added.
	Env map[string]string
	// CPU and Memory, if set, become the container's resource request
	// (e.g. "500m", "512Mi"); see resource.ParseQuantity for the accepted
	// grammar.
	CPU    string
	Memory string
}
