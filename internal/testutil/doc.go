// Package testutil provides shared test utilities for clave.
//
// # Fixtures
//
// The fixtures.go file provides sample data for testing:
//
//   - SamplePrograms() - a two-program catalog
//   - ShortProgram() - a single-step program lasting three ticks
//   - SampleManual() - a manual start configuration
//   - SampleSessions(now) - one completed, one stopped and one running session
//   - SampleReadings(start, n, interval) - a rising pressure series
//
// # Environment Helpers
//
// The env.go file provides test environment setup:
//
//   - SetupTestDir(t) - creates a temp directory with a fast .clave/config.yaml
//   - FastMonitor(), IdleMonitor() - monitor settings for driven or idle tests
//   - MustMarshalJSON(t, v), MustUnmarshalJSON(t, data, v)
//   - WriteTestFile(t, base, path, content) - writes a file in test dir
//
// # Assertions
//
// The assertions.go file provides helpers for controller events:
//
//   - WaitForStatus(t, status, want, timeout)
//   - CollectUntil(t, events, stop, timeout) - drains a subscription
//   - AssertSeqContiguous(t, events, from)
//   - AssertFinalized(t, events, reason)
//   - StatusSequence(t, events)
//
// # Timeouts
//
// The timeout.go file creates contexts that respect the test deadline:
// ContextWithTestDeadline, RemoteOperationContext and SessionContext.
//
// Packages imported by testutil (cycle, config, stream and what they
// import) cannot use it from their own internal tests.
package testutil
