// Package k8sjob implements platform.Adapter against the Kubernetes Batch
// API. A job's terminal status is read off status.succeeded/status.failed,
// never off pod phases directly.
package k8sjob

import (
	"context"
	"fmt"

	"github.com/forgeflow/forgeflow/internal/platform"
	batchv1 "k8s.io/api/batch/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Adapter is a platform.Adapter backed by a Kubernetes BatchV1 client.
type Adapter struct {
	clientset kubernetes.Interface
}

// New wraps an existing Kubernetes clientset.
func New(clientset kubernetes.Interface) *Adapter {
	return &Adapter{clientset: clientset}
}

// CreateJob submits job (a *batchv1.Job) to namespace.
func (a *Adapter) CreateJob(ctx context.Context, job platform.JobSpec, namespace string) error {
	jobObj, ok := job.(*batchv1.Job)
	if !ok {
		return fmt.Errorf("k8sjob: CreateJob expects *batchv1.Job, got %T", job)
	}

	_, err := a.clientset.BatchV1().Jobs(namespace).Create(ctx, jobObj, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("k8sjob: create job %q in namespace %q: %w", jobObj.Name, namespace, err)
	}
	return nil
}

// GetJobStatus maps a Kubernetes Job's status subresource to the three-state
// platform.Status: status.succeeded set -> Succeeded, status.failed set ->
// Failed, otherwise Running (the job has not yet produced terminal counts).
func (a *Adapter) GetJobStatus(ctx context.Context, jobName, namespace string) (platform.Status, error) {
	job, err := a.clientset.BatchV1().Jobs(namespace).Get(ctx, jobName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return platform.Running, fmt.Errorf("%w: %s/%s", platform.ErrJobNotFound, namespace, jobName)
		}
		return platform.Running, fmt.Errorf("k8sjob: get job status for %q: %w", jobName, err)
	}

	switch {
	case job.Status.Succeeded > 0:
		return platform.Succeeded, nil
	case job.Status.Failed > 0:
		return platform.Failed, nil
	default:
		return platform.Running, nil
	}
}
