// Package saga provides the forward-execution / reverse-compensation engine
// that all Onramp workflows are built on.
//
// # Overview
//
// A saga is an ordered list of Steps sharing one Context. The engine runs
// each step's Forward action in order; the first failure stops forward
// execution and triggers a compensation pass over the steps that completed,
// in reverse order. Compensation is best-effort and continue-on-error: a
// failing compensation is recorded and the pass moves on to the next
// (earlier) step. The original forward error is what callers ultimately see.
//
// # Usage Example
//
//	ctx := saga.NewContext()
//	steps := []saga.Step{
//		{
//			Name:    "create-remote-resource",
//			Forward: func(c context.Context, sc *saga.Context) error { ... },
//			Compensate: func(c context.Context, sc *saga.Context) error { ... },
//		},
//		{
//			Name:    "persist-locally",
//			Forward: func(c context.Context, sc *saga.Context) error { ... },
//		},
//	}
//	result := engine.Run(requestCtx, "provision-resource", steps, ctx)
//	if err := result.Err(); err != nil {
//		return err
//	}
//
// # Compensation Contract
//
// Compensations must tolerate "already absent": the forward action they undo
// may only partially have taken effect (e.g. a timeout with unknown outcome),
// so delete-by-identifier compensations treat not-found as success. A
// cancelled request context does not abort the compensation pass; the engine
// switches to a fresh context so completed steps are always offered a chance
// to roll back.
//
// # Related Packages
//
//   - pkg/onboarding: the concrete tenant/user workflows built on this engine
//   - pkg/reconcile: reuses the compensation vocabulary for event rollback
package saga
