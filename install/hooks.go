package install

import "context"

// Event names a lifecycle checkpoint the orchestrator reaches while
// driving an install or sync through its state machine.
type Event string

const (
	EventManifestResolved Event = "manifest_resolved"
	EventSnapshotHit      Event = "snapshot_hit"
	EventSnapshotMiss     Event = "snapshot_miss"
	EventTreeCacheHit     Event = "tree_cache_hit"
	EventTreeCacheMiss    Event = "tree_cache_miss"
	EventOffline          Event = "offline"
	EventPackageInstalled Event = "package_installed"
	EventPackageFailed    Event = "package_failed"
	EventSnapshotCreated  Event = "snapshot_created"
	EventInstallComplete  Event = "install_complete"
)

// HookSink is the capability the orchestrator notifies at named lifecycle
// points, decoupling plugin/telemetry concerns from the core the same way
// Sink decouples progress rendering. Implementations must not panic; the
// orchestrator swallows any error a hook returns and continues.
type HookSink interface {
	OnEvent(ctx context.Context, event Event, data map[string]any) error
}

// NoOpHooks is a HookSink that does nothing, used when no caller-supplied
// sink is configured.
type NoOpHooks struct{}

func (NoOpHooks) OnEvent(ctx context.Context, event Event, data map[string]any) error { return nil }

// fire invokes sink at a checkpoint and discards any error, per HookSink's
// contract that hook failures never affect install outcome.
func fire(ctx context.Context, sink HookSink, event Event, data map[string]any) {
	if sink == nil {
		return
	}
	_ = sink.OnEvent(ctx, event, data)
}
