// Package orchestrator drives a dependency graph to completion. It consumes
// the queue the graph materializer produced, classifies each node's state,
// dispatches it locally or as a child container job, and re-enqueues pending
// nodes until the queue drains or a child job fails.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/forgeflow/forgeflow/internal/backoff"
	"github.com/forgeflow/forgeflow/internal/childjob"
	"github.com/forgeflow/forgeflow/internal/config"
	"github.com/forgeflow/forgeflow/internal/logger"
	"github.com/forgeflow/forgeflow/internal/platform"
	"github.com/forgeflow/forgeflow/internal/task"
	"github.com/forgeflow/forgeflow/internal/taskgraph"
	"github.com/forgeflow/forgeflow/internal/workspace"
)

// defaultPacingInterval bounds the polling rate against the platform.
const defaultPacingInterval = 1 * time.Second

// Orchestrator owns the job-tracking table and running set for a single run
// of Build(root).
type Orchestrator struct {
	Config    *config.Config
	Platform  platform.Adapter
	Workspace workspace.FS
	Builder   *childjob.Builder
	Logger    logger.Logger

	// PacingInterval overrides defaultPacingInterval; zero uses the default.
	// Exposed so tests need not wait a full second per iteration.
	PacingInterval time.Duration

	jobNames map[string]string
	running  map[string]struct{}
}

// New constructs an Orchestrator ready to run Build. cfg.PathChildScript has
// already been validated to exist by config.Load.
func New(cfg *config.Config, adapter platform.Adapter, fs workspace.FS, builder *childjob.Builder, lg logger.Logger) *Orchestrator {
	return &Orchestrator{
		Config:    cfg,
		Platform:  adapter,
		Workspace: fs,
		Builder:   builder,
		Logger:    lg,
		jobNames:  make(map[string]string),
		running:   make(map[string]struct{}),
	}
}

// Build drives root and its transitive dependencies to completion. It
// returns the first fatal error encountered: a failed child job, a failed
// local run, an invalid placement, or a platform error. There is no local
// recovery; completed tasks are skipped on re-run via Complete.
func (o *Orchestrator) Build(ctx context.Context, root task.Task) error {
	runID := uuid.NewString()
	baseLogger := o.Logger
	o.Logger = baseLogger.With("run_id", runID)
	defer func() { o.Logger = baseLogger }()
	o.Logger.Infof("Starting orchestration run %s", runID)

	if o.Builder.MasterPodName == "" || o.Builder.MasterPodUID == "" {
		o.Logger.Warn("Master pod name/uid not provided; child jobs will not be garbage-collected with the master pod.")
	}

	remoteConfigPath, err := o.stageDynamicConfig(ctx)
	if err != nil {
		return err
	}

	o.Logger.Info("Creating task queue...")
	queue := taskgraph.Materialize(root)
	for _, t := range queue {
		o.Logger.Infof("Task %s is pushed to task queue", task.Info(t))
	}
	o.Logger.Infof("Total tasks in task queue: %d", len(queue))

	o.Logger.Info("Consuming task queue...")
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]

		if t.Complete() {
			o.Logger.Infof("Task %s is already completed.", task.Info(t))
			delete(o.running, t.Identity())
			continue
		}

		if jobName, ok := o.jobNames[t.Identity()]; ok {
			status, err := o.getJobStatus(ctx, jobName)
			if err != nil {
				return fmt.Errorf("orchestrator: poll job %s for task %s: %w", jobName, task.Info(t), err)
			}
			if status == platform.Failed {
				return fmt.Errorf("orchestrator: task %s on job %s has failed", task.Info(t), jobName)
			}
			o.Logger.Infof("Task %s is still running on child job.", task.Info(t))
			queue = append(queue, t)
			continue
		}

		if err := o.pace(ctx); err != nil {
			return err
		}

		o.Logger.Infof("Checking if task %s is executable...", task.Info(t))
		ready, err := o.isReady(ctx, t)
		if err != nil {
			return err
		}
		if !ready {
			queue = append(queue, t)
			o.Logger.Debug("Task is not executable yet. Re-enqueue task.")
			continue
		}

		switch t.Placement() {
		case task.Local:
			o.Logger.Infof("Executing task %s on master job...", task.Info(t))
			if err := t.Run(ctx); err != nil {
				return fmt.Errorf("orchestrator: task %s on job master has failed: %w", task.Info(t), err)
			}
			o.Logger.Infof("Completed task %s on master job.", task.Info(t))
		case task.Remote:
			if o.Config.MaxChildJobs > 0 && len(o.running) >= o.Config.MaxChildJobs {
				o.Logger.Infof("Reach max_child_jobs, waiting to run task %s on child job...", task.Info(t))
				queue = append(queue, t)
				continue
			}
			if err := o.dispatchRemote(ctx, t, remoteConfigPath); err != nil {
				return err
			}
			queue = append(queue, t)
		default:
			return fmt.Errorf("orchestrator: invalid placement for task %s", task.Info(t))
		}
	}

	o.Logger.Info("All tasks completed!")
	return nil
}

// pace sleeps for the fixed pacing interval via a ConstantBackoffPolicy,
// undisturbed by jitter: the scheduler wants a deterministic polling
// cadence, not a randomized one.
func (o *Orchestrator) pace(ctx context.Context) error {
	interval := o.PacingInterval
	if interval == 0 {
		interval = defaultPacingInterval
	}
	retrier := backoff.NewRetrier(backoff.NewConstantBackoffPolicy(interval))
	return retrier.Next(ctx, nil)
}

// isReady reports whether t may be dispatched: every dependency must be
// complete, and any dependency that was ever dispatched as a child must not
// currently be RUNNING. Requiring both closes the race between a child
// marking its output complete on shared storage and the platform reporting
// the job finished.
func (o *Orchestrator) isReady(ctx context.Context, t task.Task) (bool, error) {
	for _, dep := range t.Dependencies() {
		if !dep.Complete() {
			return false, nil
		}
		jobName, ok := o.jobNames[dep.Identity()]
		if !ok {
			continue
		}
		status, err := o.getJobStatus(ctx, jobName)
		if err != nil {
			return false, fmt.Errorf("orchestrator: poll job %s for task %s: %w", jobName, task.Info(dep), err)
		}
		if status == platform.Failed {
			return false, fmt.Errorf("orchestrator: task %s on job %s has failed", task.Info(dep), jobName)
		}
		if status == platform.Running {
			return false, nil
		}
	}
	return true, nil
}

// getJobStatus polls jobName's status through platform.WithRetry, so a
// transient platform RPC hiccup does not surface as a fatal platform error
// on its own. Only the call is retried, never a job's own terminal outcome.
func (o *Orchestrator) getJobStatus(ctx context.Context, jobName string) (platform.Status, error) {
	var status platform.Status
	err := platform.WithRetry(ctx, func() error {
		var callErr error
		status, callErr = o.Platform.GetJobStatus(ctx, jobName, o.Config.Namespace)
		return callErr
	})
	return status, err
}

// dispatchRemote serializes t to the shared workspace, builds its child job
// and submits it, then records it in the job-tracking table and running set.
func (o *Orchestrator) dispatchRemote(ctx context.Context, t task.Task, remoteConfigPath string) error {
	serializable, ok := t.(task.Serializable)
	if !ok {
		return fmt.Errorf("orchestrator: task %s is REMOTE but does not implement Serializable", task.Info(t))
	}

	data, err := serializable.MarshalState()
	if err != nil {
		return fmt.Errorf("orchestrator: marshal task %s: %w", task.Info(t), err)
	}

	key := workspace.TaskObjectKey(t.Identity())
	if err := o.Workspace.Put(ctx, key, data); err != nil {
		return fmt.Errorf("orchestrator: write task object for %s: %w", task.Info(t), err)
	}

	jobName := childjob.GenJobName(o.Config.JobPrefix)
	pklPath := o.Workspace.ResolvedPath(key)

	overrides, err := containerOverridesFor(t)
	if err != nil {
		return fmt.Errorf("orchestrator: container overrides for %s: %w", task.Info(t), err)
	}

	job, err := o.Builder.Build(jobName, pklPath, remoteConfigPath, overrides)
	if err != nil {
		return fmt.Errorf("orchestrator: build child job for %s: %w", task.Info(t), err)
	}

	if err := platform.WithRetry(ctx, func() error {
		return o.Platform.CreateJob(ctx, job, o.Config.Namespace)
	}); err != nil {
		return fmt.Errorf("orchestrator: create child job for %s: %w", task.Info(t), err)
	}

	o.Logger.Infof("Created child job %s with task %s", jobName, task.Info(t))
	o.jobNames[t.Identity()] = jobName
	o.running[t.Identity()] = struct{}{}
	return nil
}

// stageDynamicConfig copies the optional single .ini configuration file to
// the shared workspace and returns the remote path passed to every child via
// --remote-config-path. Returns "" if none is configured.
func (o *Orchestrator) stageDynamicConfig(ctx context.Context) (string, error) {
	if o.Config.DynamicConfigPath == "" {
		o.Logger.Info("No dynamic config files to stage.")
		return "", nil
	}

	data, err := os.ReadFile(o.Config.DynamicConfigPath)
	if err != nil {
		return "", fmt.Errorf("orchestrator: read dynamic config %q: %w", o.Config.DynamicConfigPath, err)
	}

	basename := filepath.Base(o.Config.DynamicConfigPath)
	key := workspace.ConfigKey(basename)
	if err := o.Workspace.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("orchestrator: stage dynamic config %q: %w", basename, err)
	}

	o.Logger.Infof("Staged dynamic config file %s", basename)
	return o.Workspace.ResolvedPath(key), nil
}

// containerOverridesFor translates t's task.Tunable data, if it implements
// that interface, into a childjob.Overrides. A task that isn't Tunable
// dispatches with the zero value.
func containerOverridesFor(t task.Task) (childjob.Overrides, error) {
	tunable, ok := t.(task.Tunable)
	if !ok {
		return childjob.Overrides{}, nil
	}
	co := tunable.ContainerOverrides()

	var overrides childjob.Overrides
	for name, value := range co.Env {
		overrides.Env = append(overrides.Env, corev1.EnvVar{Name: name, Value: value})
	}
	// Map iteration order is randomized; sort so the built job spec (and any
	// test asserting on it) is deterministic.
	sort.Slice(overrides.Env, func(i, j int) bool { return overrides.Env[i].Name < overrides.Env[j].Name })

	if co.CPU != "" || co.Memory != "" {
		requests := corev1.ResourceList{}
		if co.CPU != "" {
			qty, err := resource.ParseQuantity(co.CPU)
			if err != nil {
				return childjob.Overrides{}, fmt.Errorf("invalid cpu override %q: %w", co.CPU, err)
			}
			requests[corev1.ResourceCPU] = qty
		}
		if co.Memory != "" {
			qty, err := resource.ParseQuantity(co.Memory)
			if err != nil {
				return childjob.Overrides{}, fmt.Errorf("invalid memory override %q: %w", co.Memory, err)
			}
			requests[corev1.ResourceMemory] = qty
		}
		overrides.Resources = corev1.ResourceRequirements{Requests: requests}
	}

	return overrides, nil
}
