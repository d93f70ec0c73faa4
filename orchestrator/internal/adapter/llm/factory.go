package llm

import (
	"time"

	"go.uber.org/zap"
)

const (
	// EnvMode is the environment variable name for mode selection.
	EnvMode = "LLM_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// NewExecutor returns a MockClient when mode is MOCK, and an HTTP client otherwise.
func NewExecutor(mode, baseURL, apiKey, model string, timeout time.Duration) Executor {
	if mode == ModeMock {
		zap.S().Named("llm").Infow("mock mode detected, using mock executor", "env", EnvMode)
		return NewMockClient()
	}
	return NewClient(baseURL, apiKey, model, timeout)
}
