// Package engine wires the pipeline stages together: parse, plan, and
// dispatch. It is the in-process entry point used by the chat commands, the
// CLI, the playbook runner and the routine scheduler.
package engine

import (
	"context"

	"github.com/bdobrica/Jimu/internal/jimu/dispatch"
	"github.com/bdobrica/Jimu/internal/jimu/intent"
	"github.com/bdobrica/Jimu/internal/jimu/plan"
	"github.com/bdobrica/Jimu/internal/jimu/vocab"
)

// Executor runs built plans. *dispatch.Dispatcher implements it.
type Executor interface {
	Execute(ctx context.Context, p plan.Plan) (dispatch.Result, error)
	ExecuteSilently(ctx context.Context, p plan.Plan) (dispatch.Result, error)
}

// Engine turns operator text into plans and executes them.
type Engine struct {
	vocab    *vocab.Vocabulary
	parser   *intent.Parser
	builder  *plan.Builder
	executor Executor
}

// New returns an Engine over v (the embedded vocabulary when nil) that
// hands plans to exec.
func New(v *vocab.Vocabulary, exec Executor, opts ...intent.Option) *Engine {
	if v == nil {
		v = vocab.Default()
	}
	return &Engine{
		vocab:    v,
		parser:   intent.NewParser(v, opts...),
		builder:  plan.NewBuilder(v),
		executor: exec,
	}
}

// Vocabulary returns the vocabulary the engine was built with.
func (e *Engine) Vocabulary() *vocab.Vocabulary { return e.vocab }

// ParseAndPlan parses text and builds a plan from it and c. It never fails.
func (e *Engine) ParseAndPlan(text string, c plan.Context) plan.Plan {
	return e.builder.Build(e.parser.Parse(text), c)
}

// Execute runs p and announces the outcome to the operator.
func (e *Engine) Execute(ctx context.Context, p plan.Plan) (dispatch.Result, error) {
	return e.executor.Execute(ctx, p)
}

// ExecuteSilently runs p without an announcement.
func (e *Engine) ExecuteSilently(ctx context.Context, p plan.Plan) (dispatch.Result, error) {
	return e.executor.ExecuteSilently(ctx, p)
}
