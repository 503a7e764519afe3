// Package coordinator provides the service dependency coordinator of the feed
// synchronization engine.
//
// The coordinator is a registry of synchronizers: their enabled flag, their
// declared prerequisites and the number of successful iterations each has
// reported. Processor loops call its wait gates before every iteration:
//
//   - WaitForPrerequisites: every prerequisite is enabled and has completed at
//     least one iteration.
//   - WaitForMaintenanceWindowEnd: no maintenance window is open.
//   - WaitForConnectivity: the connectivity state machine is in normal mode.
//     Reports whether a restoration happened since the caller last passed.
//   - WaitForServiceProgress: a producer completed an iteration after the call,
//     used after a foreign-key violation.
//
// # Waiting
//
// All waits are cooperative poll loops at a short fixed interval (one second
// unless configured) bounded by the caller's context. No lock is held while
// sleeping. A service inside a wait is reported as paused by Snapshot.
//
// # Dependency graph
//
// Declare rejects edges that would close a cycle, so misconfigured entity
// definitions fail at startup instead of deadlocking the loops.
package coordinator
