// Package dockerjob implements platform.Adapter against a local Docker
// daemon, for running child "jobs" as one-shot containers where no
// Kubernetes API server is available (local development, CI).
package dockerjob

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	batchv1 "k8s.io/api/batch/v1"

	"github.com/forgeflow/forgeflow/internal/platform"
	"github.com/moby/moby/api/types/container"
	dockerclient "github.com/moby/moby/client"
)

// Adapter is a platform.Adapter backed by the Docker Engine API. It accepts
// the same *batchv1.Job platform.JobSpec the child job builder produces for
// k8sjob (the template is platform-agnostic at the image/command/env level)
// and translates it into a one-shot container on CreateJob, so callers can
// switch platform.Adapter backends without changing how they build job
// specs.
type Adapter struct {
	client *dockerclient.Client
}

// New wraps an existing Docker client.
func New(client *dockerclient.Client) *Adapter {
	return &Adapter{client: client}
}

// CreateJob translates job's primary container into a Docker container
// named after job's metadata and starts it. namespace is recorded as a
// label only; Docker has no namespace concept of its own.
func (a *Adapter) CreateJob(ctx context.Context, job platform.JobSpec, namespace string) error {
	jobObj, ok := job.(*batchv1.Job)
	if !ok {
		return fmt.Errorf("dockerjob: CreateJob expects *batchv1.Job, got %T", job)
	}

	cfg, err := containerConfig(jobObj, namespace)
	if err != nil {
		return err
	}

	created, err := a.client.ContainerCreate(ctx, cfg, nil, nil, nil, jobObj.Name)
	if err != nil {
		return fmt.Errorf("dockerjob: create container %q: %w", jobObj.Name, err)
	}

	if err := a.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("dockerjob: start container %q: %w", jobObj.Name, err)
	}
	return nil
}

// containerConfig translates a job's primary container into a Docker
// container.Config. Pulled out of CreateJob so the translation can be unit
// tested without a live Docker daemon.
func containerConfig(jobObj *batchv1.Job, namespace string) (*container.Config, error) {
	containers := jobObj.Spec.Template.Spec.Containers
	if len(containers) == 0 {
		return nil, fmt.Errorf("dockerjob: job %q has no containers", jobObj.Name)
	}
	primary := containers[0]

	env := make([]string, 0, len(primary.Env))
	for _, e := range primary.Env {
		env = append(env, e.Name+"="+e.Value)
	}

	return &container.Config{
		Image: primary.Image,
		Cmd:   primary.Command,
		Env:   env,
		Labels: map[string]string{
			"kannon.namespace": namespace,
			"kannon.job":       jobObj.Name,
		},
	}, nil
}

// GetJobStatus maps a container's state to the three-state platform.Status:
// still running -> Running, exited with code 0 -> Succeeded, exited nonzero
// -> Failed.
func (a *Adapter) GetJobStatus(ctx context.Context, jobName, _ string) (platform.Status, error) {
	inspect, err := a.client.ContainerInspect(ctx, jobName)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return platform.Running, fmt.Errorf("%w: %s", platform.ErrJobNotFound, jobName)
		}
		return platform.Running, fmt.Errorf("dockerjob: inspect container %q: %w", jobName, err)
	}

	if inspect.State.Running {
		return platform.Running, nil
	}
	if inspect.State.ExitCode == 0 {
		return platform.Succeeded, nil
	}
	return platform.Failed, nil
}
