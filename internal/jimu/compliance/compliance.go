// Package compliance lets operators veto plans before they run. Rules are
// CEL expressions evaluated against the plan; a rule that evaluates to true
// blocks the plan with the rule's message.
//
// Example rules file:
//
//	rules:
//	  - name: no-bulk-driver-texts
//	    expression: 'action == "send_notification" && entity == "drivers" && selected_count == 0'
//	    message: drivers may only be messaged from an explicit selection
package compliance

import (
	"context"
	"fmt"
	"os"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Jimu/internal/jimu/plan"
)

// Violation is returned when a rule blocks a plan.
type Violation struct {
	Rule    string
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("blocked by compliance rule %q: %s", v.Rule, v.Message)
}

// Validator checks a plan before any side effect. A nil error allows it.
type Validator interface {
	Validate(ctx context.Context, p plan.Plan) error
}

// Allow permits every plan.
type Allow struct{}

// Validate implements Validator.
func (Allow) Validate(context.Context, plan.Plan) error { return nil }

// Rule is one blocking expression.
type Rule struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	Message    string `yaml:"message"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML rules file. An empty path yields no rules.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compliance: read %s: %w", path, err)
	}
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("compliance: parse %s: %w", path, err)
	}
	return f.Rules, nil
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// CELValidator evaluates compiled rules in declaration order.
type CELValidator struct {
	rules []compiledRule
}

// NewCELValidator compiles rules. Any rule that fails to compile, or does
// not produce a bool, is an error.
func NewCELValidator(rules []Rule) (*CELValidator, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("intent", cel.StringType),
		cel.Variable("entity", cel.StringType),
		cel.Variable("filters", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("selected_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	v := &CELValidator{}
	for i, r := range rules {
		if r.Name == "" {
			r.Name = fmt.Sprintf("rule-%d", i+1)
		}
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compliance rule %q: CEL compile error: %w", r.Name, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("compliance rule %q: expression must be boolean, got %s", r.Name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("compliance rule %q: CEL program error: %w", r.Name, err)
		}
		v.rules = append(v.rules, compiledRule{Rule: r, prg: prg})
	}
	return v, nil
}

// Len returns the number of compiled rules.
func (v *CELValidator) Len() int { return len(v.rules) }

// Validate implements Validator. A rule that fails to evaluate blocks the
// plan.
func (v *CELValidator) Validate(_ context.Context, p plan.Plan) error {
	if len(v.rules) == 0 {
		return nil
	}

	filters := make(map[string]string, len(p.Filters))
	for k, val := range p.Filters {
		filters[string(k)] = val
	}
	input := map[string]any{
		"action":         string(p.ExecutionAction),
		"intent":         string(p.ActionIntent),
		"entity":         string(p.EntityType),
		"filters":        filters,
		"selected_count": int64(len(p.SelectedIDs)),
	}

	for _, r := range v.rules {
		out, _, err := r.prg.Eval(input)
		if err != nil {
			return &Violation{Rule: r.Name, Message: fmt.Sprintf("rule could not be evaluated: %v", err)}
		}
		if blocked, ok := out.Value().(bool); ok && blocked {
			msg := r.Message
			if msg == "" {
				msg = r.Expression
			}
			return &Violation{Rule: r.Name, Message: msg}
		}
	}
	return nil
}
