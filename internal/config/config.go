// Package config loads controller and worker settings from an optional YAML
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Auth providers.
const (
	AuthMock   = "mock"
	AuthAPIKey = "apikey"
)

// Worker runtimes.
const (
	RuntimeDocker     = "docker"
	RuntimeExec       = "exec"
	RuntimeKubernetes = "kubernetes"
)

// Config holds all configuration values for the controller and the worker.
type Config struct {
	StoreBackend string
	DatabaseURL  string
	HTTPPort     int
	AuthProvider string

	// CallbackSecret authenticates orchestrator status callbacks.
	CallbackSecret string
	// AdminSecret protects the admin routes. Empty disables them.
	AdminSecret string

	// OrchestratorURL is where dispatches are sent. Empty logs them instead.
	OrchestratorURL   string
	OrchestratorToken string
	PublicBaseURL     string

	RateLimit      float64
	RateLimitBurst int

	OTELEndpoint string

	// Worker
	WorkerConcurrency int
	WorkerPort        int
	ControllerURL     string
	Runtime           string
	RuntimeWorkDir    string
	WorkflowImage     string
	WorkflowCommand   []string
	WorkflowTimeout   time.Duration
	K8sNamespace      string
}

// key -> env var
var envBindings = map[string]string{
	"store_backend":      "STORE_BACKEND",
	"database_url":       "DATABASE_URL",
	"http_port":          "PORT",
	"auth_provider":      "AUTH_PROVIDER",
	"callback_secret":    "CALLBACK_SECRET",
	"admin_secret":       "ADMIN_SECRET",
	"orchestrator_url":   "ORCHESTRATOR_URL",
	"orchestrator_token": "ORCHESTRATOR_TOKEN",
	"public_base_url":    "PUBLIC_BASE_URL",
	"rate_limit":         "RATE_LIMIT",
	"rate_limit_burst":   "RATE_LIMIT_BURST",
	"otel_endpoint":      "OTEL_EXPORTER_OTLP_ENDPOINT",
	"worker_concurrency": "WORKER_CONCURRENCY",
	"worker_port":        "WORKER_PORT",
	"controller_url":     "CONTROLLER_URL",
	"runtime":            "RUNTIME",
	"runtime_workdir":    "RUNTIME_WORKDIR",
	"workflow_image":     "WORKFLOW_IMAGE",
	"workflow_command":   "WORKFLOW_COMMAND",
	"workflow_timeout":   "WORKFLOW_TIMEOUT",
	"k8s_namespace":      "K8S_NAMESPACE",
}

// Load reads configuration from path (when given) and the environment.
// Environment variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("store_backend", StoreMemory)
	v.SetDefault("http_port", 6161)
	v.SetDefault("auth_provider", AuthMock)
	v.SetDefault("public_base_url", "http://localhost:6161")
	v.SetDefault("rate_limit", 50)
	v.SetDefault("rate_limit_burst", 100)
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("worker_concurrency", 1)
	v.SetDefault("worker_port", 6262)
	v.SetDefault("controller_url", "http://localhost:6161")
	v.SetDefault("runtime", RuntimeDocker)
	v.SetDefault("workflow_image", "draftplane/pipeline:latest")
	v.SetDefault("workflow_timeout", time.Hour)
	v.SetDefault("k8s_namespace", "default")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		StoreBackend:      strings.ToLower(v.GetString("store_backend")),
		DatabaseURL:       v.GetString("database_url"),
		HTTPPort:          v.GetInt("http_port"),
		AuthProvider:      strings.ToLower(v.GetString("auth_provider")),
		CallbackSecret:    v.GetString("callback_secret"),
		AdminSecret:       v.GetString("admin_secret"),
		OrchestratorURL:   v.GetString("orchestrator_url"),
		OrchestratorToken: v.GetString("orchestrator_token"),
		PublicBaseURL:     v.GetString("public_base_url"),
		RateLimit:         v.GetFloat64("rate_limit"),
		RateLimitBurst:    v.GetInt("rate_limit_burst"),
		OTELEndpoint:      v.GetString("otel_endpoint"),
		WorkerConcurrency: v.GetInt("worker_concurrency"),
		WorkerPort:        v.GetInt("worker_port"),
		ControllerURL:     v.GetString("controller_url"),
		Runtime:           strings.ToLower(v.GetString("runtime")),
		RuntimeWorkDir:    v.GetString("runtime_workdir"),
		WorkflowImage:     v.GetString("workflow_image"),
		WorkflowCommand:   splitCommand(v.GetString("workflow_command")),
		WorkflowTimeout:   v.GetDuration("workflow_timeout"),
		K8sNamespace:      v.GetString("k8s_namespace"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitCommand turns "python,run.py" into its argv.
func splitCommand(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) validate() error {
	var errs []error

	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("database_url is required (env: DATABASE_URL)"))
		}
	default:
		errs = append(errs, fmt.Errorf("store_backend must be one of memory, postgres (env: STORE_BACKEND), got %q", c.StoreBackend))
	}
	switch c.AuthProvider {
	case AuthMock, AuthAPIKey:
	default:
		errs = append(errs, fmt.Errorf("auth_provider must be one of mock, apikey (env: AUTH_PROVIDER), got %q", c.AuthProvider))
	}
	if c.CallbackSecret == "" {
		errs = append(errs, errors.New("callback_secret is required (env: CALLBACK_SECRET)"))
	}
	switch c.Runtime {
	case RuntimeDocker, RuntimeExec, RuntimeKubernetes:
	default:
		errs = append(errs, fmt.Errorf("runtime must be one of docker, exec, kubernetes (env: RUNTIME), got %q", c.Runtime))
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, fmt.Errorf("worker_concurrency must be at least 1 (env: WORKER_CONCURRENCY), got %d", c.WorkerConcurrency))
	}
	if c.WorkflowTimeout <= 0 {
		errs = append(errs, fmt.Errorf("workflow_timeout must be positive (env: WORKFLOW_TIMEOUT), got %s", c.WorkflowTimeout))
	}

	return errors.Join(errs...)
}
