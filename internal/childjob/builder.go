// Package childjob builds a per-node child job specification by cloning a
// user-supplied template and injecting the command line, inherited
// environment variables and optional owner reference.
package childjob

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	corev1 "k8s.io/api/core/v1"

	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// ErrCommandAlreadySet is returned when the template's primary container
// already has a Command: the orchestrator, not the user, owns the command
// line of a child job.
var ErrCommandAlreadySet = fmt.Errorf("childjob: template container must not set Command, the orchestrator owns it")

// ErrMissingEnv is returned when an inherited environment variable is not
// set in the master's own environment.
type ErrMissingEnv struct{ Name string }

func (e *ErrMissingEnv) Error() string {
	return fmt.Sprintf("childjob: required environment variable %q is not set", e.Name)
}

// Overrides carries per-task container adjustments (resources, extra env)
// layered onto the cloned template container. Left zero-valued, nothing is
// overridden.
type Overrides struct {
	Env       []corev1.EnvVar
	Resources corev1.ResourceRequirements
}

// Builder builds child-job specs from one template job, shared across every
// node dispatched in a run.
type Builder struct {
	// Template is the base job spec cloned for every child. Its first
	// container is the primary one and must have Command unset; any further
	// containers are copied unchanged.
	Template *batchv1.Job
	// Interpreter, if non-empty, is prepended to the command line ahead of
	// ScriptPath (e.g. "python3"). Leave empty for a self-contained
	// executable script.
	Interpreter string
	// ScriptPath is the child-side runner invoked to load and run one node.
	ScriptPath string
	// EnvToInherit lists environment variable names copied from the
	// master's environment into every child's container.
	EnvToInherit []string
	// MasterPodName and MasterPodUID, if both set, add an owner reference
	// from the child job to the master pod so the platform garbage-collects
	// children when the master pod disappears.
	MasterPodName string
	MasterPodUID  string
}

// Build produces a concrete job spec for one node's remote dispatch.
func (b *Builder) Build(jobName, taskPklPath, remoteConfigPath string, overrides Overrides) (*batchv1.Job, error) {
	job := b.Template.DeepCopy()

	containers := job.Spec.Template.Spec.Containers
	if len(containers) == 0 {
		return nil, fmt.Errorf("childjob: template has no containers")
	}
	primary := &containers[0]

	if len(primary.Command) != 0 {
		return nil, ErrCommandAlreadySet
	}

	primary.Command = b.buildCommand(taskPklPath, remoteConfigPath)

	if err := b.inheritEnv(primary); err != nil {
		return nil, err
	}

	if err := mergo.Merge(&primary.Env, overrides.Env, mergo.WithAppendSlice); err != nil {
		return nil, fmt.Errorf("childjob: merge env overrides: %w", err)
	}
	if err := mergo.Merge(&primary.Resources, overrides.Resources, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("childjob: merge resource overrides: %w", err)
	}

	job.Spec.Template.Spec.Containers = containers
	job.ObjectMeta.Name = jobName

	if b.MasterPodName != "" && b.MasterPodUID != "" {
		job.ObjectMeta.OwnerReferences = append(job.ObjectMeta.OwnerReferences, metav1.OwnerReference{
			APIVersion: "batch/v1",
			Kind:       "Pod",
			Name:       b.MasterPodName,
			UID:        types.UID(b.MasterPodUID),
		})
	}

	return job, nil
}

func (b *Builder) buildCommand(taskPklPath, remoteConfigPath string) []string {
	cmd := make([]string, 0, 6)
	if b.Interpreter != "" {
		cmd = append(cmd, b.Interpreter)
	}
	cmd = append(cmd, b.ScriptPath, "--task-pkl-path", fmt.Sprintf("'%s'", taskPklPath))
	if remoteConfigPath != "" {
		cmd = append(cmd, "--remote-config-path", remoteConfigPath)
	}
	return cmd
}

func (b *Builder) inheritEnv(container *corev1.Container) error {
	for _, name := range b.EnvToInherit {
		value, ok := os.LookupEnv(name)
		if !ok {
			return &ErrMissingEnv{Name: name}
		}
		container.Env = append(container.Env, corev1.EnvVar{Name: name, Value: value})
	}
	return nil
}
