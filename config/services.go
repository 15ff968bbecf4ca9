package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeOrchestrator runs the orchestrator check consumer.
	ServiceModeOrchestrator ServiceMode = "orchestrator"
	// ServiceModePhaseWorker runs the phase task consumer.
	ServiceModePhaseWorker ServiceMode = "phase-worker"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeOrchestrator,
		ServiceModePhaseWorker,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeOrchestrator, ServiceModePhaseWorker:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, orchestrator, phase-worker)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// OrchestratorConfig contains orchestrator service configuration.
type OrchestratorConfig struct {
	// Concurrency is the number of check consumer goroutines.
	Concurrency int `env:"ORCHESTRATOR_CONCURRENCY" envDefault:"2"`

	// CheckBackoffBase is the base delay between orchestrator self-checks.
	CheckBackoffBase time.Duration `env:"ORCHESTRATOR_CHECK_BACKOFF_BASE" envDefault:"5s"`

	// CheckBackoffMax caps the delay between orchestrator self-checks,
	// jitter included.
	CheckBackoffMax time.Duration `env:"ORCHESTRATOR_CHECK_BACKOFF_MAX" envDefault:"60s"`

	// CheckMaxJitter is the maximum random jitter added to check delays.
	CheckMaxJitter time.Duration `env:"ORCHESTRATOR_CHECK_MAX_JITTER" envDefault:"5s"`

	// CheckMaxAttempts is the per-job cap on orchestrator checks before the
	// job is failed as stuck.
	CheckMaxAttempts int `env:"ORCHESTRATOR_CHECK_MAX_ATTEMPTS" envDefault:"100"`

	// VariatorTimeout is the stall threshold for the variation phase.
	VariatorTimeout time.Duration `env:"ORCHESTRATOR_VARIATOR_TIMEOUT" envDefault:"3m"`

	// EnricherTimeout is the stall threshold for the enrichment phase.
	EnricherTimeout time.Duration `env:"ORCHESTRATOR_ENRICHER_TIMEOUT" envDefault:"10m"`

	// RankerTimeout is the stall threshold for the ranking phase.
	RankerTimeout time.Duration `env:"ORCHESTRATOR_RANKER_TIMEOUT" envDefault:"5m"`
}

// Sanitize applies guardrails to orchestrator configuration values.
func (o *OrchestratorConfig) Sanitize() {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.CheckBackoffBase < time.Second {
		o.CheckBackoffBase = time.Second
	}
	if o.CheckBackoffMax < o.CheckBackoffBase {
		o.CheckBackoffMax = o.CheckBackoffBase
	}
	if o.CheckMaxJitter < 0 {
		o.CheckMaxJitter = 0
	}
	if o.CheckMaxJitter > o.CheckBackoffMax {
		o.CheckMaxJitter = o.CheckBackoffMax
	}
	if o.CheckMaxAttempts < 1 {
		o.CheckMaxAttempts = 1
	}
	if o.VariatorTimeout < 30*time.Second {
		o.VariatorTimeout = 30 * time.Second
	}
	if o.EnricherTimeout < 30*time.Second {
		o.EnricherTimeout = 30 * time.Second
	}
	if o.RankerTimeout < 30*time.Second {
		o.RankerTimeout = 30 * time.Second
	}
}

// WorkerConfig contains phase worker service configuration.
type WorkerConfig struct {
	// Concurrency is the number of phase consumer goroutines.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"4"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
}
