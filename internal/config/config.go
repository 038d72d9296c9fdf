// Package config loads the orchestrator's own configuration:
// the platform client selection, the child job template, job-name prefix,
// child script path, inherited environment variables, optional master pod
// identity for owner references, optional dynamic config file, and the
// concurrency cap.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// Config holds every recognized orchestrator option.
type Config struct {
	// Platform selects the container-platform backend: "k8s" (default) or
	// "docker".
	Platform string `mapstructure:"platform"`
	// Namespace is the Kubernetes namespace (or Docker label) child jobs are
	// created in.
	Namespace string `mapstructure:"namespace"`
	// TemplateJobPath points to a YAML/JSON file holding the base job
	// specification cloned for every child.
	TemplateJobPath string `mapstructure:"templateJobPath"`
	// JobPrefix prefixes every generated child job name.
	JobPrefix string `mapstructure:"jobPrefix"`
	// PathChildScript is the filesystem path of the child-side runner
	// script; it must exist at construction time.
	PathChildScript string `mapstructure:"pathChildScript"`
	// EnvToInherit lists environment variable names copied from the master's
	// environment into every child's container.
	EnvToInherit []string `mapstructure:"envToInherit"`
	// MasterPodName and MasterPodUID, if both set, add an owner reference
	// from every child job to the master pod.
	MasterPodName string `mapstructure:"masterPodName"`
	MasterPodUID  string `mapstructure:"masterPodUID"`
	// DynamicConfigPath, if set, must point to a single .ini file; it is
	// staged to the workspace and its remote path is passed to every child
	// via --remote-config-path.
	DynamicConfigPath string `mapstructure:"dynamicConfigPath"`
	// MaxChildJobs bounds the number of concurrently active child jobs. Left
	// unset (zero) it means unbounded; Load rejects an explicitly configured
	// value of zero or below.
	MaxChildJobs int `mapstructure:"maxChildJobs"`
}

const defaultEnvToInherit = "TASK_WORKSPACE_DIRECTORY"

// Load reads configuration from path (if non-empty) or from the default
// search locations, validates it, and returns it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KANNON")
	v.AutomaticEnv()
	v.SetDefault("platform", "k8s")
	v.SetDefault("envToInherit", []string{defaultEnvToInherit})

	if path != "" {
		v.SetConfigFile(path)
	} else {
		configPath, err := xdg.SearchConfigFile(filepath.Join("kannon", "config.yaml"))
		if err != nil {
			return nil, fmt.Errorf("config: no config file given and none found in XDG search paths: %w", err)
		}
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %q: %w", v.ConfigFileUsed(), err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", v.ConfigFileUsed(), err)
	}

	if v.IsSet("maxChildJobs") && cfg.MaxChildJobs <= 0 {
		return nil, fmt.Errorf("config: maxChildJobs must be positive if set, got %d", cfg.MaxChildJobs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the fatal-at-construction checks: missing child script,
// negative cap, missing workspace env-var, and a dynamic config file that
// isn't .ini. A zero cap reads as unset here; Load additionally rejects a
// zero that was set explicitly.
func (c *Config) Validate() error {
	if c.JobPrefix == "" {
		return fmt.Errorf("config: jobPrefix is required")
	}
	if c.TemplateJobPath == "" {
		return fmt.Errorf("config: templateJobPath is required")
	}
	if c.PathChildScript == "" {
		return fmt.Errorf("config: pathChildScript is required")
	}
	if _, err := os.Stat(c.PathChildScript); err != nil {
		return fmt.Errorf("config: child script %q does not exist: %w", c.PathChildScript, err)
	}
	if c.MaxChildJobs < 0 {
		return fmt.Errorf("config: maxChildJobs must be positive if set, got %d", c.MaxChildJobs)
	}
	if len(c.EnvToInherit) == 0 {
		c.EnvToInherit = []string{defaultEnvToInherit}
	}
	for _, name := range c.EnvToInherit {
		if _, ok := os.LookupEnv(name); !ok {
			return fmt.Errorf("config: required environment variable %q is not set", name)
		}
	}
	if c.DynamicConfigPath != "" && !strings.EqualFold(filepath.Ext(c.DynamicConfigPath), ".ini") {
		return fmt.Errorf("config: dynamicConfigPath %q must be a .ini file", c.DynamicConfigPath)
	}
	return nil
}
