package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/forgeflow/forgeflow/internal/childjob"
	"github.com/forgeflow/forgeflow/internal/config"
	"github.com/forgeflow/forgeflow/internal/logger"
	"github.com/forgeflow/forgeflow/internal/platform"
	"github.com/forgeflow/forgeflow/internal/task"
	"github.com/forgeflow/forgeflow/internal/workspace"
)

// testTask is a minimal task.Serializable double whose completeness and
// dependency graph are fully test-controlled. It also implements
// task.Tunable, returning overrides verbatim (the zero value when unset),
// so tests can exercise containerOverridesFor without a separate type.
type testTask struct {
	identity  string
	family    string
	deps      []task.Task
	placement task.Placement
	complete  bool
	ran       bool
	runErr    error
	overrides task.ContainerOverrides
}

func (t *testTask) Identity() string          { return t.identity }
func (t *testTask) Family() string            { return t.family }
func (t *testTask) Dependencies() []task.Task { return t.deps }
func (t *testTask) Placement() task.Placement { return t.placement }
func (t *testTask) Complete() bool            { return t.complete }
func (t *testTask) Run(ctx context.Context) error {
	t.ran = true
	if t.runErr != nil {
		return t.runErr
	}
	t.complete = true
	return nil
}
func (t *testTask) MarshalState() ([]byte, error)               { return []byte(t.identity), nil }
func (t *testTask) UnmarshalState(data []byte) error            { t.identity = string(data); return nil }
func (t *testTask) ContainerOverrides() task.ContainerOverrides { return t.overrides }

// fakePlatform maps a generated job name back to the task identity it was
// built for (via the --task-pkl-path argument, which embeds the identity) so
// per-task status scripts can be driven deterministically.
type fakePlatform struct {
	mu          sync.Mutex
	jobToIdent  map[string]string
	jobsByIdent map[string]*batchv1.Job
	calls       map[string]int
	statusFunc  func(identity string, call int) platform.Status
	createErr   error
}

func newFakePlatform(statusFunc func(identity string, call int) platform.Status) *fakePlatform {
	return &fakePlatform{
		jobToIdent:  make(map[string]string),
		jobsByIdent: make(map[string]*batchv1.Job),
		calls:       make(map[string]int),
		statusFunc:  statusFunc,
	}
}

func (fp *fakePlatform) CreateJob(ctx context.Context, job platform.JobSpec, namespace string) error {
	if fp.createErr != nil {
		return fp.createErr
	}
	j := job.(*batchv1.Job)
	identity := identityFromJob(j)
	fp.mu.Lock()
	fp.jobToIdent[j.ObjectMeta.Name] = identity
	fp.jobsByIdent[identity] = j
	fp.mu.Unlock()
	return nil
}

func (fp *fakePlatform) GetJobStatus(ctx context.Context, jobName, namespace string) (platform.Status, error) {
	fp.mu.Lock()
	identity := fp.jobToIdent[jobName]
	fp.calls[identity]++
	call := fp.calls[identity]
	fp.mu.Unlock()
	return fp.statusFunc(identity, call), nil
}

// identityFromJob recovers the task identity encoded into the
// --task-pkl-path argument: ".../task_obj_<identity>.pkl".
func identityFromJob(job *batchv1.Job) string {
	cmd := job.Spec.Template.Spec.Containers[0].Command
	for i, arg := range cmd {
		if arg == "--task-pkl-path" && i+1 < len(cmd) {
			path := strings.Trim(cmd[i+1], "'")
			base := filepath.Base(path)
			base = strings.TrimPrefix(base, "task_obj_")
			base = strings.TrimSuffix(base, ".pkl")
			return base
		}
	}
	return ""
}

func newTestOrchestrator(t *testing.T, plat platform.Adapter, buf *bytes.Buffer, maxChildJobs int) *Orchestrator {
	t.Helper()
	t.Setenv("TASK_WORKSPACE_DIRECTORY", "/workspace")

	wsDir := t.TempDir()
	fs, err := workspace.Open(wsDir)
	require.NoError(t, err)

	builder := &childjob.Builder{
		Template: &batchv1.Job{
			ObjectMeta: metav1.ObjectMeta{Name: "kannon-child"},
			Spec: batchv1.JobSpec{
				Template: corev1.PodTemplateSpec{
					Spec: corev1.PodSpec{
						Containers:    []corev1.Container{{Name: "job", Image: "kannon-quick-starter"}},
						RestartPolicy: corev1.RestartPolicyNever,
					},
				},
			},
		},
		ScriptPath:   "./run_child",
		EnvToInherit: []string{"TASK_WORKSPACE_DIRECTORY"},
	}

	lg := logger.NewLogger(logger.WithWriter(buf), logger.WithQuiet(), logger.WithFormat("text"))

	cfg := &config.Config{
		Namespace:    "default",
		JobPrefix:    "kannon-job",
		MaxChildJobs: maxChildJobs,
	}

	o := New(cfg, plat, fs, builder, lg)
	o.PacingInterval = time.Millisecond
	return o
}

func TestBuild_SingleLocalNode(t *testing.T) {
	var buf bytes.Buffer
	o := newTestOrchestrator(t, newFakePlatform(nil), &buf, 0)

	a := &testTask{identity: "a", family: "A", placement: task.Local}

	err := o.Build(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, a.ran)

	out := buf.String()
	assert.Contains(t, out, "No dynamic config files to stage.")
	assert.Contains(t, out, "Creating task queue...")
	assert.Contains(t, out, "Task A_a is pushed to task queue")
	assert.Contains(t, out, "Total tasks in task queue: 1")
	assert.Contains(t, out, "Consuming task queue...")
	assert.Contains(t, out, "Checking if task A_a is executable...")
	assert.Contains(t, out, "Executing task A_a on master job...")
	assert.Contains(t, out, "Completed task A_a on master job.")
	assert.Contains(t, out, "All tasks completed!")
}

func TestBuild_SingleRemoteNode(t *testing.T) {
	a := &testTask{identity: "a", family: "A", placement: task.Remote}

	statusFunc := func(identity string, call int) platform.Status {
		if identity == "a" && call == 1 {
			// Simulate the child finishing its work between this poll and
			// the scheduler's next pass over the queue.
			a.complete = true
			return platform.Running
		}
		return platform.Succeeded
	}

	var buf bytes.Buffer
	o := newTestOrchestrator(t, newFakePlatform(statusFunc), &buf, 0)

	err := o.Build(context.Background(), a)
	require.NoError(t, err)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "is still running on child job."))
	assert.Contains(t, out, "Task A_a is already completed.")
	assert.Contains(t, out, "All tasks completed!")
}

// TestBuild_RemoteNodeWithContainerOverrides confirms a task.Tunable task's
// env and resource overrides actually reach the created job spec, not just
// the always-empty childjob.Overrides{} a non-Tunable task dispatches with.
func TestBuild_RemoteNodeWithContainerOverrides(t *testing.T) {
	a := &testTask{
		identity:  "a",
		family:    "A",
		placement: task.Remote,
		overrides: task.ContainerOverrides{
			Env:    map[string]string{"PRIORITY": "high"},
			CPU:    "500m",
			Memory: "512Mi",
		},
	}

	plat := newFakePlatform(func(identity string, call int) platform.Status {
		a.complete = true
		return platform.Succeeded
	})

	var buf bytes.Buffer
	o := newTestOrchestrator(t, plat, &buf, 0)

	require.NoError(t, o.Build(context.Background(), a))

	job := plat.jobsByIdent["a"]
	require.NotNil(t, job)
	container := job.Spec.Template.Spec.Containers[0]
	assert.Contains(t, container.Env, corev1.EnvVar{Name: "PRIORITY", Value: "high"})
	assert.Equal(t, "500m", container.Resources.Requests.Cpu().String())
	assert.Equal(t, "512Mi", container.Resources.Requests.Memory().String())
}

func TestBuild_FanIn(t *testing.T) {
	var completionOrder []string
	var mu sync.Mutex

	var c1, c2, c3 *testTask
	thresholds := map[string]int{"c1": 3, "c2": 2, "c3": 1}

	statusFunc := func(identity string, call int) platform.Status {
		if call < thresholds[identity] {
			return platform.Running
		}
		mu.Lock()
		defer mu.Unlock()
		switch identity {
		case "c1":
			if !c1.complete {
				c1.complete = true
				completionOrder = append(completionOrder, "c1")
			}
		case "c2":
			if !c2.complete {
				c2.complete = true
				completionOrder = append(completionOrder, "c2")
			}
		case "c3":
			if !c3.complete {
				c3.complete = true
				completionOrder = append(completionOrder, "c3")
			}
		}
		return platform.Succeeded
	}

	c1 = &testTask{identity: "c1", family: "C", placement: task.Remote}
	c2 = &testTask{identity: "c2", family: "C", placement: task.Remote}
	c3 = &testTask{identity: "c3", family: "C", placement: task.Remote}
	p := &testTask{identity: "p", family: "P", placement: task.Local, deps: []task.Task{c1, c2, c3}}

	var buf bytes.Buffer
	o := newTestOrchestrator(t, newFakePlatform(statusFunc), &buf, 0)

	err := o.Build(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, p.ran)
	assert.Equal(t, []string{"c3", "c2", "c1"}, completionOrder)

	out := buf.String()
	pushOrder := []string{"C_c1", "C_c2", "C_c3", "P_p"}
	lastIdx := -1
	for _, name := range pushOrder {
		idx := strings.Index(out, fmt.Sprintf("Task %s is pushed to task queue", name))
		require.GreaterOrEqual(t, idx, 0, "missing push log for %s", name)
		require.Greater(t, idx, lastIdx, "push order violated at %s", name)
		lastIdx = idx
	}

	// P only becomes ready once every child's completeness flag has flipped
	// (asserted above via completionOrder); the "already completed" log
	// line for a child may itself be emitted a pass after that flip, since
	// the flag flips as a side effect of the poll that precedes it, so log
	// order is not asserted here.
	assert.Contains(t, out, "Executing task P_p on master job...")
}

func TestBuild_FanInWithCap(t *testing.T) {
	var mu sync.Mutex
	done := map[string]bool{}

	statusFunc := func(identity string, call int) platform.Status {
		mu.Lock()
		defer mu.Unlock()
		if call >= 1 {
			done[identity] = true
			return platform.Succeeded
		}
		return platform.Running
	}

	c1 := &testTask{identity: "c1", family: "C", placement: task.Remote}
	c2 := &testTask{identity: "c2", family: "C", placement: task.Remote}
	c3 := &testTask{identity: "c3", family: "C", placement: task.Remote}
	p := &testTask{identity: "p", family: "P", placement: task.Local, deps: []task.Task{c1, c2, c3}}

	originalStatusFunc := statusFunc
	statusFunc = func(identity string, call int) platform.Status {
		status := originalStatusFunc(identity, call)
		if status == platform.Succeeded {
			switch identity {
			case "c1":
				c1.complete = true
			case "c2":
				c2.complete = true
			case "c3":
				c3.complete = true
			}
		}
		return status
	}

	var buf bytes.Buffer
	o := newTestOrchestrator(t, newFakePlatform(statusFunc), &buf, 2)

	err := o.Build(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, p.ran)

	out := buf.String()
	assert.Contains(t, out, "Reach max_child_jobs, waiting to run task C_c3 on child job...")
}

func TestBuild_StagesDynamicConfigAndPassesRemotePath(t *testing.T) {
	a := &testTask{identity: "a", family: "A", placement: task.Remote}

	plat := newFakePlatform(func(identity string, call int) platform.Status {
		a.complete = true
		return platform.Succeeded
	})

	var buf bytes.Buffer
	o := newTestOrchestrator(t, plat, &buf, 0)

	iniPath := filepath.Join(t.TempDir(), "base.ini")
	require.NoError(t, os.WriteFile(iniPath, []byte("[section]\nkey=value\n"), 0o644))
	o.Config.DynamicConfigPath = iniPath

	require.NoError(t, o.Build(context.Background(), a))

	out := buf.String()
	assert.Contains(t, out, "Staged dynamic config file base.ini")
	assert.NotContains(t, out, "No dynamic config files to stage.")

	staged, err := o.Workspace.Get(context.Background(), workspace.ConfigKey("base.ini"))
	require.NoError(t, err)
	assert.Equal(t, "[section]\nkey=value\n", string(staged))

	job := plat.jobsByIdent["a"]
	require.NotNil(t, job)
	cmd := job.Spec.Template.Spec.Containers[0].Command
	require.Contains(t, cmd, "--remote-config-path")
	assert.Equal(t, o.Workspace.ResolvedPath(workspace.ConfigKey("base.ini")), cmd[len(cmd)-1])
}

func TestBuild_RemoteTaskMustBeSerializable(t *testing.T) {
	// plainTask satisfies task.Task but not task.Serializable, so it cannot
	// cross the process boundary to a child container.
	a := &plainTask{identity: "a", family: "A"}

	var buf bytes.Buffer
	o := newTestOrchestrator(t, newFakePlatform(nil), &buf, 0)

	err := o.Build(context.Background(), a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Serializable")
}

type plainTask struct {
	identity string
	family   string
}

func (t *plainTask) Identity() string            { return t.identity }
func (t *plainTask) Family() string              { return t.family }
func (t *plainTask) Dependencies() []task.Task   { return nil }
func (t *plainTask) Placement() task.Placement   { return task.Remote }
func (t *plainTask) Complete() bool              { return false }
func (t *plainTask) Run(_ context.Context) error { return nil }

func TestBuild_ChildFailure(t *testing.T) {
	a := &testTask{identity: "a", family: "A", placement: task.Remote}
	b := &testTask{identity: "b", family: "B", placement: task.Local, deps: []task.Task{a}}

	statusFunc := func(identity string, call int) platform.Status {
		return platform.Failed
	}

	var buf bytes.Buffer
	o := newTestOrchestrator(t, newFakePlatform(statusFunc), &buf, 0)

	err := o.Build(context.Background(), b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "A_a")
	assert.False(t, b.ran)
}

func TestBuild_Diamond(t *testing.T) {
	d := &testTask{identity: "d", family: "D", placement: task.Local}
	l := &testTask{identity: "l", family: "L", placement: task.Local, deps: []task.Task{d}}
	r := &testTask{identity: "r", family: "R", placement: task.Local, deps: []task.Task{d}}
	j := &testTask{identity: "j", family: "J", placement: task.Local, deps: []task.Task{l, r}}

	var buf bytes.Buffer
	o := newTestOrchestrator(t, newFakePlatform(nil), &buf, 0)

	err := o.Build(context.Background(), j)
	require.NoError(t, err)
	assert.True(t, d.ran)
	assert.True(t, l.ran)
	assert.True(t, r.ran)
	assert.True(t, j.ran)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "Task D_d is pushed to task queue"))

	jExecIdx := strings.Index(out, "Executing task J_j on master job...")
	lDoneIdx := strings.Index(out, "Completed task L_l on master job.")
	rDoneIdx := strings.Index(out, "Completed task R_r on master job.")
	require.GreaterOrEqual(t, jExecIdx, 0)
	require.GreaterOrEqual(t, lDoneIdx, 0)
	require.GreaterOrEqual(t, rDoneIdx, 0)
	assert.Greater(t, jExecIdx, lDoneIdx)
	assert.Greater(t, jExecIdx, rDoneIdx)
}
