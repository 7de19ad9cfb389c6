// Package submission implements the answer submission coordinator.
//
// The Coordinator is the single entry point for submitting an answer. It
// decides whether the network is usable, calls the remote submit endpoint,
// keeps unsent answers in the local store and resubmits them in batch.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Connectivity signals (online, offline, quality changed) are delivered with
// Signal from any goroutine and processed one at a time, in FIFO order, by
// the loop started with Start. The loop is the only writer of the current
// NetworkStatus and the only caller of network observers.
//
// Auto-Sync:
// An Offline to Online transition with unsent answers in the store starts
// one background batch retry. The syncInProgress flag guards it: a trigger
// that arrives while a batch is running is dropped, not queued.
//
// No-Loss:
// SubmitAnswer either gets a 2xx from the remote endpoint or leaves the
// answer in the store. Once the store write or the remote call has started
// it is detached from the caller's context, so a cancelled caller cannot
// lose an answer halfway.
//
// Batch retry is strictly sequential: the next remote call is not issued
// until the previous one has resolved.
package submission
