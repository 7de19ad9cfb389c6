// Package harness runs YAML scenarios against a real submission
// Coordinator backed by a temporary SQLite store, a scripted remote and a
// switchable probe.
//
// # Scenario Format
//
//	name: offline_then_reconnect
//	description: "Answers cached offline sync on reconnect"
//	setup:
//	  online: false
//	  probe: unreachable
//	steps:
//	  - submit:
//	      element_id: q1
//	      lesson_id: l1
//	      graph_lesson_id: gl1
//	      answer: '{"choice":2}'
//	    expect: { success: true, cached: true }
//	  - probe: reachable
//	  - network: online
//	  - await: sync
//	    expect: { succeeded: 1, remaining: 0 }
//	assertions:
//	  - type: pending_count
//	    count: 0
//
// Exactly one action is allowed per step: submit, network, probe, remote,
// retry, clear or await.
//
// # Assertion Types
//
//   - pending_count: number of cached answers still waiting
//   - cached: an answer is cached, optionally with status, answer,
//     has_error and retryable
//   - not_cached: no answer is cached for the key
//   - remote_calls / remote_accepted: number of remote calls, optionally
//     for one element_id
//   - sync_count: number of completed auto-syncs
//   - no_loss: every submitted answer was accepted remotely or is cached
//
// # Deterministic Testing
//
// Submission IDs come from testutil.SequenceGenerator and timestamps from
// testutil.DeterministicClock. The trace records remote calls only after
// steps that leave no remote work running (submit, retry, clear, await)
// so the same scenario always yields the same trace.
package harness
