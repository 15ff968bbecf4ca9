package config

import "time"

// OracleConfig contains generative oracle (OpenAI) configuration.
type OracleConfig struct {
	// APIKey authenticates against the OpenAI API. Required for the
	// phase-worker service mode.
	APIKey string `env:"OPENAI_API_KEY"`

	// Model is the chat completions model used for variation and enrichment.
	Model string `env:"ORACLE_MODEL" envDefault:"gpt-4o-mini"`

	// Timeout bounds a single oracle call including its in-call retries.
	Timeout time.Duration `env:"ORACLE_TIMEOUT" envDefault:"120s"`

	// Temperature for generation; 0 uses the API default.
	Temperature float64 `env:"ORACLE_TEMPERATURE" envDefault:"0"`
}

// Sanitize applies guardrails to oracle configuration values.
func (o *OracleConfig) Sanitize() {
	if o.Timeout < 5*time.Second {
		o.Timeout = 5 * time.Second
	}
	if o.Temperature < 0 {
		o.Temperature = 0
	}
	if o.Temperature > 2 {
		o.Temperature = 2
	}
}
