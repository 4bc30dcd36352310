// Package shareflow implements a hot, multicast, replay-capable value
// stream and the sharing driver that turns a cold, single-shot producer
// into one under a configurable start/stop policy.
//
// A Stream retains the most recent Replay values for late subscribers,
// buffers ExtraBuffer values for slow ones, and applies one of three
// overflow policies once both are exhausted. Share drives a Producer
// through a Stream under a Policy, restarting collection with
// cancel-latest semantics whenever the policy's command changes.
package shareflow
