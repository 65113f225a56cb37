// Package flashpack implements the caching and snapshot engine that backs
// reproducible installs of a resolved name→version package manifest.
//
// Three cooperating caches sit in front of the plain download-and-extract
// workflow: a content-addressed per-package store, a dependency-tree
// archive store, and a project-local snapshot of the materialized
// dependency directory. Fingerprint identifies a package or a whole
// dependency set so the caches and the snapshot can be looked up by
// identity instead of by walking the filesystem.
//
// Engine
//
// A single Engine value is constructed once at process start-up and passed
// explicitly to every call site; it owns the package store, the tree
// store, the registry fetcher, and the fallback resolver, and exposes them
// through fields and methods rather than package-level globals; a worker
// pool sized by its configuration is built for each install. Orchestrator drives
// one install or sync invocation through the state machine described in
// the design: check snapshot, check tree cache, check network, fetch in
// parallel, snapshot again.
//
// Everything that talks to the world outside this process — the registry
// HTTP fetch and the snapshot archive's native-tool shell-out — is
// confined to registryfetch and snapshot, with a portable fallback the
// correctness reference in both cases.
package flashpack
