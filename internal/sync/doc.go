// Package sync provides the shared vocabulary of the feed synchronization engine
// used by the fleet feed connector.
//
// The engine mirrors upstream entity feeds into PostgreSQL. Each entity type is
// handled by one synchronizer (a processor loop) identified by a ServiceID. The
// subpackages split the engine into small, independently testable parts:
//
// # Subpackages
//
//   - coordinator: registry of synchronizers, their enabled/paused status and
//     dependency edges, plus the cooperative wait gates every loop passes before
//     an iteration.
//   - feed: the incremental pull protocol for one entity type (cursor, page
//     limit, caught-up tracking, rollback).
//   - fkresolver: maps a foreign-key constraint name to the synchronizer that
//     produces the referenced rows.
//   - state: the durable watermark store (one row per synchronizer).
//   - writer: the persist-and-track unit that applies a batch and advances the
//     watermark in one transaction.
//   - processor: the generic loop composing all of the above.
//
// # Outcomes
//
// Expected conditions (cancellation, connectivity loss, referential-ordering
// failures) are not reported as bare errors. Fetch and commit paths return an
// Outcome whose Kind the processor loop switches on. Only OutcomeFatal ends a
// loop with a *FatalError, which the hosting process treats as crash-only:
// it logs the failure and exits so that an external supervisor restarts it.
// Watermark resumption makes the restart safe.
package sync
