// Package reconcile absorbs identity-provider registrations that were not
// created through a saga (e.g. self-service invite acceptance) into the
// local store, on a fixed interval.
//
// Each cycle fetches a time window of registration events wider than the
// tick interval, so missed ticks lose nothing and overlap is expected. An
// external-ID mapping lookup (fronted by an in-process LRU) makes
// materialization idempotent: processing the same event twice yields exactly
// one local user. Cycles are single-flight: a mutex within the process, an
// optional Redis SETNX lock across replicas. One event's failure never
// aborts the cycle; failed materializations are compensated by a best-effort
// 404-tolerant provider delete and recorded in the failure log.
package reconcile
