// Package install implements the install orchestrator: the state machine
// that stitches the fingerprint, package store, tree store, snapshot
// engine, worker pool, and fallback resolver into one install/restore/sync
// pipeline.
//
// An Engine is constructed once per process (or per command invocation)
// and holds every sub-component the orchestrator needs; no package-level
// global state is used anywhere in this package. Orchestrator is the
// thin driver on top of an Engine that walks the state machine described
// for a single install or sync call.
package install
