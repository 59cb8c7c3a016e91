package saga

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/onramp/pkg/observability"
)

const defaultCompensationTimeout = 2 * time.Minute

// Engine executes step sequences with fail-fast forward semantics and
// total, continue-on-error reverse compensation.
type Engine struct {
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer

	// CompensationTimeout bounds the fresh context used for the
	// compensation pass when the caller's context is already cancelled.
	CompensationTimeout time.Duration
}

// NewEngine creates a saga engine. Both logger and metrics may be nil.
func NewEngine(logger *observability.Logger, metrics *observability.Metrics) *Engine {
	if logger == nil {
		logger = observability.NewDiscardLogger()
	}
	return &Engine{
		logger:              logger,
		metrics:             metrics,
		tracer:              otel.Tracer("github.com/platinummonkey/onramp/pkg/saga"),
		CompensationTimeout: defaultCompensationTimeout,
	}
}

// Run executes steps in order against sc. On the first forward failure it
// stops, compensates every completed step in reverse insertion order, and
// returns a Result carrying the original error plus any compensation
// failures. Zero steps is an immediate success. A step whose own forward
// action failed is never compensated: it never completed.
func (e *Engine) Run(ctx context.Context, name string, steps []Step, sc *Context) Result {
	ctx, span := e.tracer.Start(ctx, "saga.run",
		trace.WithAttributes(attribute.String("saga.name", name)))
	defer span.End()

	start := time.Now()
	log := e.logFor(ctx, name)

	var result Result
	var completed []Step

	for _, step := range steps {
		if err := e.runStep(ctx, name, step, sc); err != nil {
			result.err = &StepError{Step: step.Name, Err: err}
			result.FailedStep = step.Name
			log.WithError(err).WithField("step", step.Name).Error("saga step failed, compensating")
			span.RecordError(err)
			span.SetStatus(codes.Error, fmt.Sprintf("step %s failed", step.Name))

			e.compensate(ctx, name, completed, sc, &result)
			e.metrics.RecordSagaRun(name, "failed", time.Since(start))
			return result
		}
		completed = append(completed, step)
		result.Completed = append(result.Completed, step.Name)
	}

	log.WithField("steps", len(steps)).Debug("saga completed")
	e.metrics.RecordSagaRun(name, "succeeded", time.Since(start))
	return result
}

// runStep invokes one forward action inside its own span, converting panics
// into errors so a misbehaving step still triggers compensation.
func (e *Engine) runStep(ctx context.Context, saga string, step Step, sc *Context) error {
	ctx, span := e.tracer.Start(ctx, "saga.step",
		trace.WithAttributes(
			attribute.String("saga.name", saga),
			attribute.String("saga.step", step.Name),
		))
	defer span.End()

	err := invoke(ctx, step.Forward, sc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.metrics.RecordSagaStep(saga, step.Name, statusLabel(err))
	return err
}

// compensate walks completed steps in reverse, offering each one exactly one
// compensation attempt. Individual failures are recorded and the walk
// continues: aborting here would strand earlier steps' side effects, which
// is strictly worse than a partial rollback with an audit trail.
func (e *Engine) compensate(ctx context.Context, saga string, completed []Step, sc *Context, result *Result) {
	log := e.logFor(ctx, saga)

	// A cancelled request must not cut the rollback short. Once the
	// caller's context is dead, the remaining compensations run on a
	// fresh, bounded context of their own.
	compCtx := ctx
	var cancel context.CancelFunc
	defer func() {
		if cancel != nil {
			cancel()
		}
	}()

	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}

		if compCtx.Err() != nil && cancel == nil {
			compCtx, cancel = context.WithTimeout(context.Background(), e.CompensationTimeout)
			log.Warn("caller context cancelled during compensation, continuing on a fresh context")
		}

		if err := invoke(compCtx, step.Compensate, sc); err != nil {
			cerr := &CompensationError{Step: step.Name, Err: err}
			result.CompensationErrors = append(result.CompensationErrors, cerr)
			log.WithError(err).WithField("step", step.Name).Error("compensation failed, continuing with earlier steps")
			e.metrics.RecordSagaCompensation(saga, step.Name, "failed")
			continue
		}
		log.WithField("step", step.Name).Debug("compensated step")
		e.metrics.RecordSagaCompensation(saga, step.Name, "succeeded")
	}
}

// logFor builds the per-run logger, carrying the workflow invocation ID the
// caller stamped on the context so every line of one run correlates.
func (e *Engine) logFor(ctx context.Context, saga string) *observability.Logger {
	log := e.logger.WithField("saga", saga)
	if id := observability.GetWorkflowID(ctx); id != "" {
		log = log.WithField("workflow_id", id)
	}
	return log
}

func invoke(ctx context.Context, fn Action, sc *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, sc)
}

func statusLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "succeeded"
}
