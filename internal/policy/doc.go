// Package policy implements the per-connection failure tracking state
// machine. It decides whether a frame is accepted, accepted with a warning,
// or causes the connection to be rejected, based on the cumulative count of
// failed integrity verdicts and the process-wide rejection policy.
package policy
