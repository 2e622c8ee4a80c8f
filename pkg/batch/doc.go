// Package batch orchestrates bulk operations against the forge API.
//
// A caller submits a list of operation descriptors; the orchestrator
// persists a job, then processes the items with a bounded worker pool. Each
// item is first checked against the remote through the idempotency resolver
// so that re-running a batch never creates duplicates, then executed through
// the retrying client. Outcomes are recorded as immutable item results on
// the job, and aggregate counters plus a progress event stream let callers
// observe and recover from partial failure.
//
// Items whose ParentRef names another operation in the same batch are
// dispatched only after that operation succeeds, so a subgroup can reference
// a group created two lines earlier in the same file. A failed parent marks
// its whole subtree failed without dispatching it.
//
// A single item's failure never aborts its siblings unless StopOnFirstError
// is set. Partial completion is an expected outcome, not an error state: the
// caller inspects the per-item results and may re-submit just the failed
// subset (see FailedOperations).
//
// Cancellation is cooperative. In-flight items run to completion and are
// recorded normally; only future dispatch is suppressed. Nothing is rolled
// back.
package batch
