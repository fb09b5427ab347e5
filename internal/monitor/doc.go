// Package monitor drives a single process session from the operator's side.
//
// The Controller owns the operator-visible status and is the only component
// that issues lifecycle commands. While a session is active it runs three
// periodic tasks: sampling the latest sensor reading into a chart buffer,
// ticking the progress estimate, and reconciling local status against the
// remote authority. The remote is the source of truth; local status only
// changes after a command is acknowledged or a reconciliation observes a
// different remote status.
//
// Terminal transitions go through a single check-then-act finalize step, so
// an operator Stop racing a reconciliation that observes completion produces
// exactly one finalization.
package monitor
