// Package policy decides whether an audit submission is admitted.
package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/rego"
)

const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Input is the document the policy is evaluated against.
type Input struct {
	Category     string `json:"category"`
	InputBytes   int    `json:"input_bytes"`
	AuditorCount int    `json:"auditor_count"`
}

// Decision is the outcome of an evaluation. Reasons is sorted.
type Decision struct {
	Decision string
	Reasons  []string
}

func (d Decision) Allowed() bool {
	return d.Decision == DecisionAllow
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles policyContent. It must define data.audit_admission.result
// as an object with a string "decision" and a set of "reasons".
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.audit_admission.result"),
		rego.Module("audit_admission.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"category":      input.Category,
		"input_bytes":   input.InputBytes,
		"auditor_count": input.AuditorCount,
	}))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("policy produced no result")
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}

	d := Decision{}
	d.Decision, _ = obj["decision"].(string)
	if d.Decision == "" {
		return Decision{}, fmt.Errorf("policy result has no decision")
	}
	if reasons, ok := obj["reasons"].([]interface{}); ok {
		for _, r := range reasons {
			if s, ok := r.(string); ok {
				d.Reasons = append(d.Reasons, s)
			}
		}
	}
	sort.Strings(d.Reasons)
	return d, nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package audit_admission

max_input_bytes = 524288

known_categories = {"security", "gas"}

deny[reason] {
	not known_categories[input.category]
	reason := sprintf("unknown category %q", [input.category])
}

deny["empty input"] {
	input.input_bytes == 0
}

deny[reason] {
	input.input_bytes > max_input_bytes
	reason := sprintf("input of %d bytes exceeds %d", [input.input_bytes, max_input_bytes])
}

deny["no active auditors"] {
	input.auditor_count == 0
}

default decision = "allow"

decision = "block" {
	count(deny) > 0
}

result = {"decision": decision, "reasons": deny}
`
