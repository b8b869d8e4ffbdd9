package notify

import (
	"context"

	"cinehub/internal/domain"
)

// LibraryStore is the slice of the library service the relay needs: merge a
// partial update into an entry, silently ignoring unknown ids.
type LibraryStore interface {
	Update(ctx context.Context, userID, entryID string, upd domain.EntryUpdate)
}

// Relay applies download events to the persistent library store and then
// forwards them to subscribed pages. Both halves are idempotent: the store
// merge drops regressions and terminal-state overwrites, so duplicate or late
// delivery is harmless, and pages only render what the store already holds.
type Relay struct {
	store LibraryStore
	bus   *Bus
}

func NewRelay(store LibraryStore, bus *Bus) *Relay {
	return &Relay{store: store, bus: bus}
}

func (r *Relay) Progress(ctx context.Context, p ProgressPayload) {
	r.store.Update(ctx, p.UserID, p.EntryID, domain.EntryUpdate{
		Progress:      &p.Progress,
		ReceivedBytes: &p.ReceivedBytes,
		TotalBytes:    &p.TotalBytes,
	})
	r.bus.Publish(EventProgress, p)
}

func (r *Relay) Complete(ctx context.Context, p CompletePayload) {
	status := domain.StatusReady
	progress := 100
	cachedAt := domain.NowMillis()
	r.store.Update(ctx, p.UserID, p.EntryID, domain.EntryUpdate{
		Status:   &status,
		Progress: &progress,
		Size:     &p.Size,
		CacheKey: &p.CacheKey,
		CachedAt: &cachedAt,
	})
	r.bus.Publish(EventComplete, p)
}

func (r *Relay) Failed(ctx context.Context, p FailedPayload) {
	status := domain.StatusFailed
	r.store.Update(ctx, p.UserID, p.EntryID, domain.EntryUpdate{
		Status: &status,
		Error:  &p.Error,
	})
	r.bus.Publish(EventFailed, p)
}
