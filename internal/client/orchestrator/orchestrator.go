// Package orchestrator drives the client's sync lifecycle: the initial
// reconcile on login, the one-time upload of pre-account local data, pushes
// after local edits, and the background poll that picks up changes made on
// other devices.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/signalnoise/cloudsync/internal/appdata"
	"github.com/signalnoise/cloudsync/internal/client/api"
	"github.com/signalnoise/cloudsync/internal/client/localstore"
	"github.com/signalnoise/cloudsync/internal/common"
	"github.com/signalnoise/cloudsync/internal/logging"
)

// Backend is the server surface the orchestrator needs. *api.Client
// satisfies it; tests substitute a fake.
type Backend interface {
	SyncMeta(ctx context.Context) (*api.Meta, error)
	Pull(ctx context.Context) (*api.Document, error)
	Push(ctx context.Context, req api.PushRequest) (*api.Meta, error)
}

// Storage is the local persistence surface. *localstore.Store satisfies it.
type Storage interface {
	LoadData(ctx context.Context) (*appdata.Data, error)
	SaveData(ctx context.Context, d *appdata.Data) error
	State(ctx context.Context) (*localstore.SyncState, error)
	SaveState(ctx context.Context, st *localstore.SyncState) error
}

// Orchestrator reconciles the local document with the server copy. All
// public methods are safe for concurrent use; a single mutex serializes
// sync cycles so two triggers never interleave.
type Orchestrator struct {
	backend Backend
	store   Storage
	logger  logging.Logger

	pollInterval time.Duration
	minSyncGap   time.Duration

	mu       sync.Mutex
	visible  bool
	lastSync time.Time

	cancel context.CancelFunc
	done   chan struct{}

	now func() time.Time
}

func New(backend Backend, store Storage, logger logging.Logger,
	pollInterval, minSyncGap time.Duration) *Orchestrator {
	return &Orchestrator{
		backend:      backend,
		store:        store,
		logger:       logger,
		pollInterval: pollInterval,
		minSyncGap:   minSyncGap,
		visible:      true,
		now:          time.Now,
	}
}

// Start performs the initial reconcile and launches the background poll
// loop. Call Stop to shut the loop down.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.SyncNow(ctx); err != nil {
		// Offline start is fine; the poll loop will catch up.
		o.logger.Warn(ctx, "initial sync failed", "error", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	go o.pollLoop(loopCtx)
	return nil
}

// Stop terminates the background loop and waits for it to exit.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
		<-o.done
	}
}

// SetVisible tells the orchestrator whether the app is in the foreground.
// Background polling is suspended while hidden; becoming visible again
// counts as a focus event.
func (o *Orchestrator) SetVisible(ctx context.Context, visible bool) {
	o.mu.Lock()
	was := o.visible
	o.visible = visible
	o.mu.Unlock()

	if visible && !was {
		o.OnFocus(ctx)
	}
}

// OnFocus syncs if enough time has passed since the last cycle. Rapid
// focus/blur flapping does not hammer the server.
func (o *Orchestrator) OnFocus(ctx context.Context) {
	o.mu.Lock()
	due := o.now().Sub(o.lastSync) >= o.minSyncGap
	o.mu.Unlock()

	if !due {
		return
	}
	if err := o.SyncNow(ctx); err != nil {
		o.logger.Warn(ctx, "focus sync failed", "error", err)
	}
}

// NotifyChange pushes the local document after an edit. On conflict the
// server copy becomes the new base and recent local additions are rebased
// onto it; everything else follows the server.
func (o *Orchestrator) NotifyChange(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pushLocked(ctx)
}

// SyncNow runs one full reconcile cycle, retrying briefly while the server
// is unreachable.
func (o *Orchestrator) SyncNow(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	op := func() error {
		err := o.reconcileLocked(ctx)
		if errors.Is(err, common.ErrUnavailable) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(op, b)
}

func (o *Orchestrator) pollLoop(ctx context.Context) {
	defer close(o.done)

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.mu.Lock()
			due := o.visible && o.now().Sub(o.lastSync) >= o.minSyncGap
			o.mu.Unlock()
			if !due {
				continue
			}
			if err := o.SyncNow(ctx); err != nil {
				o.logger.Warn(ctx, "background sync failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// reconcileLocked runs one sync cycle. Callers hold o.mu.
func (o *Orchestrator) reconcileLocked(ctx context.Context) error {
	state, err := o.store.State(ctx)
	if err != nil {
		return err
	}
	if !state.LoggedIn() {
		return common.ErrUnauthorized
	}

	meta, err := o.backend.SyncMeta(ctx)
	if err != nil {
		return err
	}

	local, err := o.store.LoadData(ctx)
	if err != nil {
		return err
	}

	// One-time migration: local tasks created before the account existed
	// are uploaded once, then the flag prevents re-uploads forever.
	if !state.SyncedFromLocal && local.TaskCount() > 0 && meta.TaskCount == 0 {
		pushed, err := o.backend.Push(ctx, api.PushRequest{Data: local, Initial: true})
		if err != nil {
			return err
		}
		state.SyncedFromLocal = true
		state.TrackedVersion = pushed.Version
		state.LastSyncAt = o.now()
		o.lastSync = state.LastSyncAt
		o.logger.Info(ctx, "migrated local data to account", "version", pushed.Version)
		return o.store.SaveState(ctx, state)
	}

	// Remote is ahead: pull and replace the working copy. The timestamp
	// comparison is a fallback covering version-counter resets.
	remoteNewer := meta.Version > state.TrackedVersion ||
		(!meta.LastModifiedAt.IsZero() && meta.LastModifiedAt.After(state.LastSyncAt))
	if remoteNewer {
		doc, err := o.backend.Pull(ctx)
		if err != nil {
			return err
		}
		if err := o.store.SaveData(ctx, doc.Data); err != nil {
			return err
		}
		state.TrackedVersion = doc.Version
		o.logger.Info(ctx, "pulled remote changes", "version", doc.Version)
	}

	state.LastSyncAt = o.now()
	o.lastSync = state.LastSyncAt
	return o.store.SaveState(ctx, state)
}

// pushLocked uploads the local document. Callers hold o.mu.
func (o *Orchestrator) pushLocked(ctx context.Context) error {
	state, err := o.store.State(ctx)
	if err != nil {
		return err
	}
	if !state.LoggedIn() {
		return common.ErrUnauthorized
	}

	local, err := o.store.LoadData(ctx)
	if err != nil {
		return err
	}

	base := state.TrackedVersion
	meta, err := o.backend.Push(ctx, api.PushRequest{Data: local, BaseVersion: &base})
	if errors.Is(err, common.ErrVersionConflict) {
		// Another device moved first. Its copy becomes the new base; tasks
		// added here since the last sync are rebased onto it and pushed
		// again so the edit that triggered the push is not lost.
		doc, perr := o.backend.Pull(ctx)
		if perr != nil {
			return perr
		}
		merged, carried := rebaseLocalTasks(doc.Data, local, state.LastSyncAt)
		if serr := o.store.SaveData(ctx, merged); serr != nil {
			return serr
		}
		state.TrackedVersion = doc.Version
		if carried > 0 {
			rebase := doc.Version
			pushed, rerr := o.backend.Push(ctx, api.PushRequest{Data: merged, BaseVersion: &rebase})
			switch {
			case rerr == nil:
				state.TrackedVersion = pushed.Version
			case errors.Is(rerr, common.ErrVersionConflict):
				// The server moved again already; the next cycle pulls.
				o.logger.Warn(ctx, "rebase push conflicted, deferring", "version", doc.Version)
			default:
				return rerr
			}
		}
		state.LastSyncAt = o.now()
		o.lastSync = state.LastSyncAt
		o.logger.Warn(ctx, "push conflict resolved",
			"version", state.TrackedVersion, "carriedTasks", carried)
		return o.store.SaveState(ctx, state)
	}
	if err != nil {
		return err
	}

	state.TrackedVersion = meta.Version
	state.LastSyncAt = o.now()
	o.lastSync = state.LastSyncAt
	o.logger.Debug(ctx, "pushed local changes", "version", meta.Version)
	return o.store.SaveState(ctx, state)
}

// rebaseLocalTasks lays tasks created locally after lastSync on top of the
// remote document. Tasks the remote already has keep the remote form, and a
// local task older than lastSync that is gone remotely stays gone: it was
// deleted on another device, not added here. All non-task fields follow the
// remote copy.
func rebaseLocalTasks(remote, local *appdata.Data, lastSync time.Time) (*appdata.Data, int) {
	known := make(map[int64]struct{}, len(remote.Tasks))
	for _, t := range remote.Tasks {
		known[t.ID] = struct{}{}
	}

	var carried []appdata.Task
	for _, t := range local.Tasks {
		if _, ok := known[t.ID]; ok {
			continue
		}
		if t.Timestamp.After(lastSync) {
			carried = append(carried, t)
		}
	}
	if len(carried) == 0 {
		return remote, 0
	}

	merged := *remote
	merged.Tasks = append(carried, remote.Tasks...)
	return &merged, len(carried)
}
