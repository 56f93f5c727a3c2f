// Package engine runs recipe lifecycle hooks in order, recording progress,
// metrics and notifications around each one.
//
// The implementation is split across several files:
//   - pipeline.go: ordered stage execution with resume support
//   - queue.go: coalescing run queue used by watch mode
//   - factory.go: default dependency construction
//   - safegroup.go: panic-safe concurrency utilities
package engine
