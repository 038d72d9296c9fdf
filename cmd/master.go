package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	dockerclient "github.com/moby/moby/client"
	"github.com/spf13/cobra"
	batchv1 "k8s.io/api/batch/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/yaml"

	"github.com/forgeflow/forgeflow/internal/childjob"
	"github.com/forgeflow/forgeflow/internal/orchestrator"
	"github.com/forgeflow/forgeflow/internal/platform"
	"github.com/forgeflow/forgeflow/internal/platform/dockerjob"
	"github.com/forgeflow/forgeflow/internal/platform/k8sjob"
	"github.com/forgeflow/forgeflow/internal/task"
	"github.com/forgeflow/forgeflow/internal/workspace"
)

func masterCmd() *cobra.Command {
	var kubeconfig string

	cmd := &cobra.Command{
		Use:   "master <root-command> [args...]",
		Short: "Materializes the task graph rooted at a single shell-command task and drives it to completion",
		Long: `master runs the scheduler loop (build()) against a root task.

Real deployments embed internal/orchestrator directly with their own
task.Task implementations; this subcommand exists to exercise the full
stack end-to-end with a trivial shell-command task as the root node.`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cobra.CheckErr(loadConfig())

			o, err := buildOrchestrator(kubeconfig)
			cobra.CheckErr(err)

			root := &shellTask{identity: "root", family: "Shell", command: args}

			ctx, cancel := context.WithCancel(context.Background())
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				appLogger.Warn("received termination signal, canceling run")
				cancel()
			}()
			defer cancel()

			cobra.CheckErr(o.Build(ctx, root))
		},
	}
	cmd.Flags().StringVar(&kubeconfig, "kubeconfig", "", "path to a kubeconfig file; empty uses in-cluster config")
	return cmd
}

// buildOrchestrator wires config, the selected Platform Adapter, the shared
// workspace and the Child Job Builder into one Orchestrator, following
// appConfig as loaded by loadConfig.
func buildOrchestrator(kubeconfig string) (*orchestrator.Orchestrator, error) {
	workspaceDir, ok := os.LookupEnv("TASK_WORKSPACE_DIRECTORY")
	if !ok {
		return nil, fmt.Errorf("TASK_WORKSPACE_DIRECTORY is not set")
	}
	fs, err := workspace.Open(workspaceDir)
	if err != nil {
		return nil, err
	}

	templateBytes, err := os.ReadFile(appConfig.TemplateJobPath)
	if err != nil {
		return nil, fmt.Errorf("read template job %q: %w", appConfig.TemplateJobPath, err)
	}
	var template batchv1.Job
	if err := yaml.Unmarshal(templateBytes, &template); err != nil {
		return nil, fmt.Errorf("parse template job %q: %w", appConfig.TemplateJobPath, err)
	}

	adapter, err := buildPlatformAdapter(kubeconfig)
	if err != nil {
		return nil, err
	}

	builder := &childjob.Builder{
		Template:      &template,
		ScriptPath:    appConfig.PathChildScript,
		EnvToInherit:  appConfig.EnvToInherit,
		MasterPodName: appConfig.MasterPodName,
		MasterPodUID:  appConfig.MasterPodUID,
	}

	o := orchestrator.New(appConfig, adapter, fs, builder, appLogger)
	return o, nil
}

func buildPlatformAdapter(kubeconfig string) (platform.Adapter, error) {
	switch appConfig.Platform {
	case "docker":
		cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("create docker client: %w", err)
		}
		return dockerjob.New(cli), nil
	case "k8s", "":
		restCfg, err := loadKubeconfig(kubeconfig)
		if err != nil {
			return nil, err
		}
		clientset, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			return nil, fmt.Errorf("create kubernetes client: %w", err)
		}
		return k8sjob.New(clientset), nil
	default:
		return nil, fmt.Errorf("unknown platform %q", appConfig.Platform)
	}
}

func loadKubeconfig(path string) (*rest.Config, error) {
	if path == "" {
		if cfg, err := rest.InClusterConfig(); err == nil {
			return cfg, nil
		}
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		rules.ExplicitPath = path
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
}

// shellTask is the trivial built-in LOCAL root task used to smoke-test the
// scheduler from the command line: it shells out to an argv and its
// completeness is simply whether it has already run once in this process.
type shellTask struct {
	identity string
	family   string
	command  []string
	done     bool
}

func (t *shellTask) Identity() string          { return t.identity }
func (t *shellTask) Family() string            { return t.family }
func (t *shellTask) Dependencies() []task.Task { return nil }
func (t *shellTask) Placement() task.Placement { return task.Local }
func (t *shellTask) Complete() bool            { return t.done }
func (t *shellTask) Run(ctx context.Context) error {
	if err := runCommand(ctx, t.command); err != nil {
		return err
	}
	t.done = true
	return nil
}

func runCommand(ctx context.Context, argv []string) error {
	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("run %q: %w", argv, err)
	}
	return nil
}
