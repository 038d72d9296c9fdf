// Package platform defines the boundary over the container platform used to
// run child jobs: create a job, and read back its terminal status. Two
// backends implement Adapter: k8sjob (Kubernetes, the default) and dockerjob
// (a local Docker daemon, for development without a cluster).
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/containerd/errdefs"
	"github.com/forgeflow/forgeflow/internal/backoff"
)

// Status is the three-state outcome of a dispatched child job.
type Status int

const (
	// Running means the job has not yet produced terminal counts.
	Running Status = iota
	// Succeeded means the job's workload exited successfully.
	Succeeded
	// Failed means the job's workload exited with an error.
	Failed
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	default:
		return "RUNNING"
	}
}

// JobSpec is an opaque, backend-specific job specification produced by the
// Child Job Builder. Adapter implementations type-assert it to their native
// type (e.g. *batchv1.Job for k8sjob).
type JobSpec any

// Adapter is the boundary over the container platform.
type Adapter interface {
	// CreateJob submits job in namespace. Platform errors are propagated and
	// are fatal to the run.
	CreateJob(ctx context.Context, job JobSpec, namespace string) error
	// GetJobStatus reads back the status of a previously created job.
	GetJobStatus(ctx context.Context, jobName, namespace string) (Status, error)
}

// ErrJobNotFound is returned by an Adapter when the named job no longer
// exists on the platform (e.g. garbage-collected).
var ErrJobNotFound = errors.New("platform: job not found")

// retryPolicy is a short jittered-exponential retry so a transient platform
// RPC hiccup does not abort the whole run as a fatal platform error. Only
// the call is retried; a job's own FAILED/SUCCEEDED outcome never is.
func retryPolicy() backoff.RetryPolicy {
	base := backoff.NewExponentialBackoffPolicy(100 * time.Millisecond)
	base.MaxRetries = 3
	base.MaxInterval = 2 * time.Second
	return backoff.WithJitter(base, backoff.FullJitter)
}

// WithRetry runs op, retrying transient (non-not-found) errors under
// retryPolicy before giving up and returning the last error.
func WithRetry(ctx context.Context, op func() error) error {
	retrier := backoff.NewRetrier(retryPolicy())
	for {
		err := op()
		if err == nil {
			return nil
		}
		if errdefs.IsNotFound(err) || errors.Is(err, ErrJobNotFound) {
			return err
		}
		if waitErr := retrier.Next(ctx, err); waitErr != nil {
			return fmt.Errorf("platform: giving up after retries: %w", err)
		}
	}
}
