// Package install's Orchestrator drives the install state machine: check
// snapshot, check tree cache, check network/offline, fetch in parallel (or
// resolve offline from fallbacks), snapshot again.
package install

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	digest "github.com/opencontainers/go-digest"

	flashpack "github.com/flashpack/flashpack"
	"github.com/flashpack/flashpack/fallback"
	"github.com/flashpack/flashpack/internal/dcontext"
	"github.com/flashpack/flashpack/internal/fsutil"
	"github.com/flashpack/flashpack/internal/metrics"
	"github.com/flashpack/flashpack/internal/uuid"
	"github.com/flashpack/flashpack/snapshot"
	"github.com/flashpack/flashpack/workerpool"
)

// Orchestrator is a thin, stateless driver over an Engine. It is safe to
// reuse across many Install/Sync calls; all per-invocation state lives on
// the stack of the call itself, never on the Orchestrator.
type Orchestrator struct {
	Engine *Engine
}

// New constructs an Orchestrator over engine.
func New(engine *Engine) *Orchestrator {
	return &Orchestrator{Engine: engine}
}

// targetDir is the materialized dependency directory every install/sync
// reads and writes, matching the snapshot archive's node_modules member.
func targetDir(project string) string {
	return filepath.Join(project, snapshot.TreeMemberName)
}

func snapshotPath(engine *Engine, project string) string {
	if engine.Config.SnapshotPath != "" {
		return engine.Config.SnapshotPath
	}
	return filepath.Join(project, snapshot.DefaultArchiveName)
}

// computeFingerprint builds the Fingerprint the snapshot and tree cache
// are both keyed against: the deterministic tree hash, plus an optional
// lockfile hash when the caller passes the raw lockfile bytes.
func computeFingerprint(deps flashpack.DependencySet, lockfileBytes []byte) flashpack.Fingerprint {
	fp := flashpack.Fingerprint{TreeHash: deps.Hash(), CreatedAt: time.Now()}
	if len(lockfileBytes) > 0 {
		h := digest.FromBytes(lockfileBytes)
		fp.LockfileHash = &h
	}
	return fp
}

// Install runs the full state machine for one resolved dependency set:
// snapshot hit, tree-cache hit, offline fallback, or a parallel network
// install, in that order. project is the directory containing (or about
// to contain) node_modules; lockfileBytes is optional raw lockfile
// content used only to compute the Fingerprint's lockfile hash.
func (o *Orchestrator) Install(ctx context.Context, project string, deps flashpack.DependencySet, lockfileBytes []byte) (Result, error) {
	start := time.Now()
	defer func() { metrics.InstallDuration().UpdateSince(start) }()

	batchID := uuid.NewString()
	ctx = dcontext.WithBatchID(ctx, batchID)
	log := dcontext.GetLogger(ctx)

	eng := o.Engine
	fp := computeFingerprint(deps, lockfileBytes)
	fire(ctx, eng.Hooks, EventManifestResolved, map[string]any{"packages": len(deps)})

	snapPath := snapshotPath(eng, project)
	if _, err := os.Stat(snapPath); err == nil && snapshot.IsValid(snapPath, fp) {
		fire(ctx, eng.Hooks, EventSnapshotHit, map[string]any{"path": snapPath})
		log.Debugf("install: snapshot %s matches fingerprint, restoring", snapPath)
		if err := snapshot.Restore(ctx, project, snapPath); err != nil {
			return Result{}, flashpack.IoError{Path: snapPath, Err: err}
		}
		res := newResult(SourceSnapshot, len(deps))
		res.Success = true
		res.Installed = deps.Sorted()
		res.Duration = time.Since(start)
		fire(ctx, eng.Hooks, EventInstallComplete, map[string]any{"source": string(SourceSnapshot)})
		return res, nil
	}
	fire(ctx, eng.Hooks, EventSnapshotMiss, nil)

	if eng.Trees.Has(deps) {
		fire(ctx, eng.Hooks, EventTreeCacheHit, nil)
		log.Debugf("install: tree cache hit for %s", deps.Hash())
		dst := targetDir(project)
		if err := fsutil.Remove(dst); err != nil {
			return Result{}, flashpack.IoError{Path: dst, Err: err}
		}
		if ok, err := eng.Trees.Get(ctx, deps, dst); err != nil {
			return Result{}, err
		} else if ok {
			res := newResult(SourceTreeCache, len(deps))
			res.Success = true
			res.Installed = deps.Sorted()
			o.createSnapshotBestEffort(ctx, project, deps, fp)
			res.Duration = time.Since(start)
			fire(ctx, eng.Hooks, EventInstallComplete, map[string]any{"source": string(SourceTreeCache)})
			return res, nil
		}
	}
	fire(ctx, eng.Hooks, EventTreeCacheMiss, nil)

	offline := eng.Config.Offline
	if !offline && !registryReachable(ctx, eng.Config.RegistryURL) {
		log.Warnf("install: registry %s unreachable, continuing offline", eng.Config.RegistryURL)
		offline = true
	}

	if offline {
		fire(ctx, eng.Hooks, EventOffline, nil)
		if !eng.Config.AllowFallbacks {
			res := newResult(SourceFallback, len(deps))
			res.Duration = time.Since(start)
			return res, flashpack.NetworkError{URL: eng.Config.RegistryURL, Err: fmt.Errorf("offline and fallbacks disabled")}
		}
		res := o.installFromFallbacks(ctx, project, deps)
		res.Duration = time.Since(start)
		if res.Success {
			o.createSnapshotBestEffort(ctx, project, deps, fp)
		}
		fire(ctx, eng.Hooks, EventInstallComplete, map[string]any{"source": string(SourceFallback)})
		return res, nil
	}

	res := o.installParallel(ctx, project, deps)
	res.Duration = time.Since(start)
	if res.Success {
		o.createSnapshotBestEffort(ctx, project, deps, fp)
		if err := eng.Trees.Put(ctx, deps, targetDir(project)); err != nil {
			log.Warnf("install: tree cache update skipped: %v", err)
		}
	}
	fire(ctx, eng.Hooks, EventInstallComplete, map[string]any{"source": string(SourceNetwork), "failed": len(res.Failed)})
	return res, nil
}

// registryReachable probes the registry host with a short TCP dial. A
// failed probe downgrades the install to the offline path instead of
// burning a full retry cycle per package against a dead network.
func registryReachable(ctx context.Context, registryURL string) bool {
	u, err := url.Parse(registryURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "http" {
			port = "80"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	conn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", host)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (o *Orchestrator) createSnapshotBestEffort(ctx context.Context, project string, deps flashpack.DependencySet, fp flashpack.Fingerprint) {
	eng := o.Engine
	err := snapshot.Create(ctx, project, deps, fp, eng.Config.SnapshotPath, treeUploader{trees: eng.Trees}, snapshot.Options{
		UploadTimeout: time.Duration(eng.Config.CacheTimeout) * time.Second,
	})
	if err != nil {
		dcontext.GetLogger(ctx).Warnf("install: snapshot creation failed (install still succeeded): %v", err)
		return
	}
	fire(ctx, eng.Hooks, EventSnapshotCreated, map[string]any{"project": project})
}

// treeUploader adapts *store.TreeStore to snapshot.TreeUploader.
type treeUploader struct {
	trees interface {
		Put(ctx context.Context, deps flashpack.DependencySet, srcDir string) error
	}
}

func (t treeUploader) Put(ctx context.Context, deps flashpack.DependencySet, srcDir string) error {
	return t.trees.Put(ctx, deps, srcDir)
}

// installParallel submits one materialization task per package to the
// worker pool. Tasks never return an error to the pool — each one catches
// and records its own final outcome so one package's failure never aborts
// the others, matching the per-package error propagation policy. The pool still bounds
// concurrency and honors ctx cancellation for the batch as a whole.
func (o *Orchestrator) installParallel(ctx context.Context, project string, deps flashpack.DependencySet) Result {
	eng := o.Engine
	ids := deps.Sorted()
	dst := targetDir(project)
	if err := fsutil.EnsureDir(dst); err != nil {
		res := newResult(SourceNetwork, len(ids))
		res.Failed = append(res.Failed, PackageFailure{Category: "IoError", Err: err})
		return res
	}

	pool := workerpool.New(eng.Concurrency(), workerpool.Policy{})
	eng.Progress.Start(int64(len(ids)))
	defer eng.Progress.Stop()

	var mu sync.Mutex
	var installed []flashpack.PackageID
	var failed []PackageFailure

	tasks := make([]workerpool.Task, len(ids))
	for i, pid := range ids {
		pid := pid
		tasks[i] = func(taskCtx context.Context) error {
			eng.Progress.UpdateStatus(pid.String())
			err := o.materializeWithRetry(taskCtx, pid, dst)
			mu.Lock()
			if err != nil {
				failed = append(failed, classifyFailure(pid, err))
				fire(taskCtx, eng.Hooks, EventPackageFailed, map[string]any{"package": pid.String(), "error": err.Error()})
			} else {
				installed = append(installed, pid)
				fire(taskCtx, eng.Hooks, EventPackageInstalled, map[string]any{"package": pid.String()})
			}
			mu.Unlock()
			eng.Progress.Update(1)
			return nil
		}
	}

	_ = pool.Run(ctx, tasks)

	res := newResult(SourceNetwork, len(ids))
	res.Installed = installed
	res.Failed = failed
	res.Success = len(failed) == 0
	if res.Success {
		eng.Progress.Complete(fmt.Sprintf("installed %d packages", len(installed)))
	}
	return res
}

// materializeWithRetry performs up to policy.MaxRetries+1 attempts of
// materializeOne, sleeping policy.RetryDelay between retryable failures
// and invoking policy.OnRetry between attempts — the retry envelope
// the orchestrator owns, kept local to this one package so a
// permanent failure here never cancels siblings still in flight.
func (o *Orchestrator) materializeWithRetry(ctx context.Context, pid flashpack.PackageID, destRoot string) error {
	policy := o.Engine.retryPolicy
	maxAttempts := policy.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return flashpack.CancelledError{Op: "materialize " + pid.String()}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if policy.TaskTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.TaskTimeout)
		}
		err := o.materializeOne(attemptCtx, pid, destRoot)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if !flashpack.IsRetryable(err) || attempt >= maxAttempts {
			break
		}
		metrics.TasksRetried()
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt)
		}
		dcontext.GetLogger(ctx).Warnf("materialize %s attempt %d failed, retrying: %v", pid, attempt, err)
		if policy.RetryDelay > 0 {
			timer := time.NewTimer(policy.RetryDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	metrics.TasksFailed()
	return lastErr
}

// materializeOne performs a single attempt at placing pid under destRoot:
// a store hit copies straight out of the package store; a miss fetches
// from the registry, places the result, then stores it for next time.
func (o *Orchestrator) materializeOne(ctx context.Context, pid flashpack.PackageID, destRoot string) error {
	eng := o.Engine
	dst := filepath.Join(destRoot, filepath.FromSlash(pid.Name))
	metrics.TasksSubmitted()
	start := time.Now()

	if ok, err := eng.Packages.Get(ctx, pid, dst); err != nil {
		return err
	} else if ok {
		metrics.ObserveMaterializeDuration(start, "store")
		return nil
	}

	staging, err := eng.Fetcher.Fetch(ctx, pid, "")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	if err := fsutil.Remove(dst); err != nil {
		return flashpack.IoError{Path: dst, Err: err}
	}
	if err := fsutil.EnsureDir(filepath.Dir(dst)); err != nil {
		return flashpack.IoError{Path: dst, Err: err}
	}
	if err := fsutil.Copy(staging, dst, eng.Config.Hardlink, nil); err != nil {
		return flashpack.IoError{Path: dst, Err: err}
	}

	if err := eng.Packages.Put(ctx, pid, dst); err != nil {
		dcontext.GetLogger(ctx).Warnf("materialize %s: store put failed (install still succeeded): %v", pid, err)
	}
	metrics.ObserveMaterializeDuration(start, "network")
	return nil
}

// classifyFailure extracts the {package, category, retryable} record from
// whatever error materializeWithRetry gave up on.
func classifyFailure(pid flashpack.PackageID, err error) PackageFailure {
	return PackageFailure{
		Package:   pid,
		Category:  fmt.Sprintf("%T", err),
		Retryable: flashpack.IsRetryable(err),
		Err:       err,
	}
}

// installFromFallbacks resolves every package offline via the fallback
// resolver and materializes each hit from the source it was found at;
// misses are recorded as failures. Non-exact hits are recorded as
// FallbackNotice entries for the caller to warn about.
func (o *Orchestrator) installFromFallbacks(ctx context.Context, project string, deps flashpack.DependencySet) Result {
	eng := o.Engine
	dst := targetDir(project)
	if err := fsutil.EnsureDir(dst); err != nil {
		res := newResult(SourceFallback, len(deps))
		res.Failed = append(res.Failed, PackageFailure{Category: "IoError", Err: err})
		return res
	}

	flags := fallback.Flags{
		AllowVersionFallback: eng.Config.AllowFallbacks,
		UseCache:             true,
		UseSnapshot:          true,
		UseLocal:             true,
		ProjectDir:           project,
	}
	results := eng.Fallback.Resolve(ctx, deps, flags)

	res := newResult(SourceFallback, len(deps))
	var snapshotRestoredOnce bool

	for _, pid := range deps.Sorted() {
		fr, ok := results[pid.Name]
		if !ok || !fr.Found {
			res.Failed = append(res.Failed, PackageFailure{
				Package:  pid,
				Category: "NotFoundError",
				Err:      flashpack.NotFoundError{PackageID: pid, URL: "<offline>"},
			})
			continue
		}

		resolvedID := flashpack.PackageID{Name: pid.Name, Version: fr.Version}
		target := filepath.Join(dst, filepath.FromSlash(pid.Name))

		var err error
		switch fr.Source {
		case fallback.SourceCache:
			var hit bool
			hit, err = eng.Packages.Get(ctx, resolvedID, target)
			if err == nil && !hit {
				err = flashpack.NotFoundError{PackageID: resolvedID, URL: "<cache>"}
			}
		case fallback.SourceSnapshot:
			if !snapshotRestoredOnce {
				err = snapshot.Restore(ctx, project, snapshotPath(eng, project))
				snapshotRestoredOnce = err == nil
			}
		case fallback.SourceLocal:
			// Already materialized at target; nothing to do.
		}

		if err != nil {
			res.Failed = append(res.Failed, classifyFailure(pid, err))
			continue
		}

		res.Installed = append(res.Installed, pid)
		if !fr.ExactVersion {
			res.Fallbacks = append(res.Fallbacks, FallbackNotice{
				Package:         pid,
				ResolvedVersion: fr.Version,
				Source:          Source(fr.Source),
			})
		}
	}

	res.Success = len(res.Failed) == 0
	return res
}

// currentlyMaterialized lists the package names and versions already
// present under project's dependency directory, by reading each
// top-level entry's package.json.
func currentlyMaterialized(project string) (flashpack.DependencySet, error) {
	dir := targetDir(project)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return flashpack.DependencySet{}, nil
	}
	if err != nil {
		return nil, flashpack.IoError{Path: dir, Err: err}
	}

	current := flashpack.DependencySet{}
	for _, e := range entries {
		if !e.IsDir() || len(e.Name()) == 0 || e.Name()[0] == '.' {
			continue
		}
		if v, ok := readInstalledVersion(filepath.Join(dir, e.Name())); ok {
			current[e.Name()] = v
		}
	}
	return current, nil
}

// Sync replaces "install everything" with a diff between what's currently
// materialized and the resolved set: removed packages are deleted first,
// then the (added ∪ changed-version) set is installed through the same
// parallel/fallback path Install uses.
func (o *Orchestrator) Sync(ctx context.Context, project string, deps flashpack.DependencySet, lockfileBytes []byte) (Result, error) {
	start := time.Now()
	eng := o.Engine

	current, err := currentlyMaterialized(project)
	if err != nil {
		return Result{}, err
	}

	var toInstall flashpack.DependencySet = flashpack.DependencySet{}
	var removed []flashpack.PackageID
	for name, version := range deps {
		if cur, ok := current[name]; !ok || cur != version {
			toInstall[name] = version
		}
	}
	for name, version := range current {
		if _, ok := deps[name]; !ok {
			removed = append(removed, flashpack.PackageID{Name: name, Version: version})
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Name < removed[j].Name })

	for _, pid := range removed {
		if err := fsutil.Remove(filepath.Join(targetDir(project), filepath.FromSlash(pid.Name))); err != nil {
			return Result{}, flashpack.IoError{Path: pid.Name, Err: err}
		}
	}

	var res Result
	if len(toInstall) == 0 {
		res = newResult(SourceNetwork, 0)
		res.Success = true
	} else if eng.Config.Offline {
		res = o.installFromFallbacks(ctx, project, toInstall)
	} else {
		res = o.installParallel(ctx, project, toInstall)
	}
	res.Removed = removed

	if res.Success {
		fp := computeFingerprint(deps, lockfileBytes)
		o.createSnapshotBestEffort(ctx, project, deps, fp)
		if !eng.Config.Offline {
			if err := eng.Trees.Put(ctx, deps, targetDir(project)); err != nil {
				dcontext.GetLogger(ctx).Warnf("sync: tree cache update skipped: %v", err)
			}
		}
	}
	res.Duration = time.Since(start)
	return res, nil
}
