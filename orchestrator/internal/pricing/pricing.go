// Package pricing turns token usage into billable credits.
package pricing

import (
	"math"
	"sync"
)

// Rates are the unit prices used by Credits.
type Rates struct {
	// Dollars per million input tokens.
	InputPerMillion float64
	// Dollars per million output tokens.
	OutputPerMillion float64
	CreditsPerDollar float64
	// MinCredits is charged when the computed cost is lower.
	MinCredits int64
}

// DefaultRates are used when no rates are configured.
var DefaultRates = Rates{
	InputPerMillion:  2.5,
	OutputPerMillion: 10,
	CreditsPerDollar: 100,
	MinCredits:       1,
}

// Credits is max(MinCredits, floor((in*inRate + out*outRate) / 1e6 * CreditsPerDollar)).
func (r Rates) Credits(u Usage) int64 {
	dollars := (float64(u.Input)*r.InputPerMillion + float64(u.Output)*r.OutputPerMillion) / 1e6
	credits := int64(math.Floor(dollars * r.CreditsPerDollar))
	if credits < r.MinCredits {
		return r.MinCredits
	}
	return credits
}

// Usage is a token count.
type Usage struct {
	Input  int64
	Output int64
}

// Meter accumulates usage across concurrent calls of one job.
type Meter struct {
	mu    sync.Mutex
	usage Usage
}

func (m *Meter) Add(input, output int64) {
	m.mu.Lock()
	m.usage.Input += input
	m.usage.Output += output
	m.mu.Unlock()
}

func (m *Meter) Total() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}
