package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cinehub/internal/cache"
	"cinehub/internal/domain"
	"cinehub/internal/notify"
	"cinehub/internal/transfer"
	"cinehub/internal/worker"
)

var (
	// ErrNotSignedIn refuses a download when no user identity is resolvable;
	// the surface maps it to a sign-in prompt.
	ErrNotSignedIn = errors.New("sign in required to download for offline use")
	// ErrCacheUnsupported refuses a download when no binary cache is
	// configured for this deployment.
	ErrCacheUnsupported = errors.New("offline downloads are not supported: no cache store configured")
	// ErrInsufficientStorage refuses a download when device storage headroom
	// is below the safety margin.
	ErrInsufficientStorage = errors.New("not enough storage space, clear some downloads to continue")
)

// DownloadRequest carries what a page sends when the user asks for an
// offline download.
type DownloadRequest struct {
	Title     string
	URL       string
	MediaType domain.MediaType
	Quality   string
	Language  string
}

// DispatchService is the single entry point for starting downloads. It checks
// preconditions, creates and persists the library entry up front so the UI
// can render it before any bytes arrive, and routes the transfer to the
// background worker when one is ready, else to a foreground engine that
// blocks the calling request for the duration.
//
// Routing state (worker readiness, foreground transfer count) lives on this
// struct so tests can construct independent instances.
type DispatchService struct {
	libraries  LibraryService
	capacity   *CapacityService
	store      cache.Store
	background worker.Manager
	foreground *transfer.Engine
	relay      *notify.Relay
	logger     *logrus.Logger

	foregroundActive atomic.Int32
}

func NewDispatchService(
	libraries LibraryService,
	capacity *CapacityService,
	store cache.Store,
	background worker.Manager,
	foreground *transfer.Engine,
	relay *notify.Relay,
	logger *logrus.Logger,
) *DispatchService {
	if logger == nil {
		logger = logrus.New()
	}
	return &DispatchService{
		libraries:  libraries,
		capacity:   capacity,
		store:      store,
		background: background,
		foreground: foreground,
		relay:      relay,
		logger:     logger,
	}
}

// ForegroundActive reports how many transfers are currently blocking request
// contexts; the surface uses it to warn before unload.
func (d *DispatchService) ForegroundActive() int {
	return int(d.foregroundActive.Load())
}

// StartDownload creates the entry and starts the transfer. The returned bool
// is true when the transfer was handed to the background worker (the caller
// may navigate away safely) and false when it ran in the foreground, in which
// case the returned entry reflects the terminal state.
func (d *DispatchService) StartDownload(ctx context.Context, userID string, req DownloadRequest) (*domain.Entry, bool, error) {
	if userID == "" {
		return nil, false, ErrNotSignedIn
	}
	if d.store == nil {
		return nil, false, ErrCacheUnsupported
	}
	if req.URL == "" {
		return nil, false, errors.New("source url is required")
	}
	if req.Title == "" {
		return nil, false, errors.New("title is required")
	}
	if req.MediaType == "" {
		req.MediaType = domain.MediaTypeMovie
	}
	if !req.MediaType.Valid() {
		return nil, false, fmt.Errorf("unsupported media type %q", req.MediaType)
	}
	if !d.capacity.StorageAvailable() {
		return nil, false, ErrInsufficientStorage
	}

	// Apply the budget to the existing library before adding to it, so a
	// shrunk budget takes effect on the next download attempt.
	if library := d.libraries.Library(ctx, userID); len(library) > 0 {
		if trimmed := d.capacity.EnforceLimit(ctx, userID, library, 0); len(trimmed) != len(library) {
			d.libraries.Save(ctx, userID, trimmed)
		}
	}

	entryID := uuid.NewString()
	entry := domain.Entry{
		ID:        entryID,
		Title:     req.Title,
		MediaType: req.MediaType,
		Quality:   req.Quality,
		Language:  req.Language,
		Status:    domain.StatusDownloading,
		CacheKey:  domain.CacheKey(req.URL, entryID),
		CreatedAt: domain.NowMillis(),
	}
	d.libraries.Append(ctx, userID, entry)

	logger := d.logger.WithField("entry_id", entryID)

	if d.background != nil && d.background.Ready() {
		err := d.background.Enqueue(worker.StartDownload{
			EntryID:  entryID,
			UserID:   userID,
			Title:    req.Title,
			URL:      req.URL,
			CacheKey: entry.CacheKey,
		})
		if err == nil {
			logger.Info("download dispatched to background worker")
			return &entry, true, nil
		}
		logger.Warnf("background dispatch: %v, falling back to foreground", err)
	}

	// Foreground transfer: runs on the caller's context, so a dropped
	// connection aborts it and leaves the entry downloading forever.
	logger.Info("running download in foreground, caller must stay connected")
	d.foregroundActive.Add(1)
	defer d.foregroundActive.Add(-1)

	sink := notify.NewEntrySink(d.relay, userID, entryID, req.Title)
	d.foreground.Run(ctx, transfer.Job{
		EntryID:  entryID,
		UserID:   userID,
		Title:    req.Title,
		URL:      req.URL,
		CacheKey: entry.CacheKey,
	}, sink)

	final := entry
	library := d.libraries.Library(ctx, userID)
	if idx := library.Find(entryID); idx >= 0 {
		final = library[idx]
	}
	return &final, false, nil
}
