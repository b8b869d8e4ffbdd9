package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"cinehub/internal/cache"
	"cinehub/internal/domain"
	"cinehub/internal/notify"
	"cinehub/internal/transfer"
)

// ErrNotReady is returned when a download command arrives before the worker
// has activated; the dispatcher falls back to a foreground transfer.
var ErrNotReady = errors.New("background worker is not ready")

// LibraryStore is the slice of the library service the worker needs for its
// startup reconciliation pass.
type LibraryStore interface {
	UserIDs(ctx context.Context) []string
	Library(ctx context.Context, userID string) domain.Library
	Update(ctx context.Context, userID, entryID string, upd domain.EntryUpdate)
}

// StartDownload is the control message dispatched from a page context to the
// background engine.
type StartDownload struct {
	EntryID  string `json:"entryId"`
	UserID   string `json:"userId"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	CacheKey string `json:"cacheKey"`
}

// Manager hosts background transfers on a lifecycle independent of any
// request: a transfer accepted here keeps running after the page that
// requested it navigates away.
type Manager interface {
	Start(ctx context.Context) error
	Shutdown()
	// Ready reports whether the worker has activated and may accept commands.
	Ready() bool
	Enqueue(cmd StartDownload) error
	// Reconcile resolves entries orphaned in the downloading state by a
	// previous crash or navigation against actual cache contents.
	Reconcile(ctx context.Context) error
}

type Config struct {
	// StaleTTL is how long an orphaned downloading entry may linger before
	// reconciliation marks it failed. Defaults to 24h.
	StaleTTL time.Duration
	Logger   *logrus.Logger
}

type manager struct {
	cfg       Config
	engine    *transfer.Engine
	relay     *notify.Relay
	libraries LibraryStore
	cache     cache.Store

	ready  atomic.Bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	active map[string]struct{}
}

func NewManager(cfg Config, engine *transfer.Engine, relay *notify.Relay, libraries LibraryStore, store cache.Store) Manager {
	if cfg.StaleTTL <= 0 {
		cfg.StaleTTL = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &manager{
		cfg:       cfg,
		engine:    engine,
		relay:     relay,
		libraries: libraries,
		cache:     store,
		active:    make(map[string]struct{}),
	}
}

func (m *manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.ready.Store(true)
	m.cfg.Logger.Info("background download worker activated")
	return nil
}

func (m *manager) Shutdown() {
	m.ready.Store(false)
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.cfg.Logger.Info("background download worker stopped")
}

func (m *manager) Ready() bool {
	return m.ready.Load()
}

// Enqueue accepts a start-download command and returns immediately; the
// transfer runs on the worker's own context. At most one engine runs per
// entry id, a duplicate command for a live transfer is dropped.
func (m *manager) Enqueue(cmd StartDownload) error {
	if !m.Ready() {
		return ErrNotReady
	}

	m.mu.Lock()
	if _, running := m.active[cmd.EntryID]; running {
		m.mu.Unlock()
		return nil
	}
	m.active[cmd.EntryID] = struct{}{}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.active, cmd.EntryID)
			m.mu.Unlock()
		}()

		sink := notify.NewEntrySink(m.relay, cmd.UserID, cmd.EntryID, cmd.Title)
		m.engine.Run(m.ctx, transfer.Job{
			EntryID:  cmd.EntryID,
			UserID:   cmd.UserID,
			Title:    cmd.Title,
			URL:      cmd.URL,
			CacheKey: cmd.CacheKey,
		}, sink)
	}()
	return nil
}

// Reconcile scans every library for entries stuck in the downloading state.
// A payload already present in the cache promotes the entry to ready; an
// absent payload older than StaleTTL marks it failed. Younger orphans are
// left alone in case a transfer is still in flight elsewhere.
func (m *manager) Reconcile(ctx context.Context) error {
	for _, userID := range m.libraries.UserIDs(ctx) {
		library := m.libraries.Library(ctx, userID)
		for i := range library {
			entry := library[i]
			if entry.Status != domain.StatusDownloading {
				continue
			}
			m.reconcileEntry(ctx, userID, entry)
		}
	}
	return nil
}

func (m *manager) reconcileEntry(ctx context.Context, userID string, entry domain.Entry) {
	logger := m.cfg.Logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"entry_id": entry.ID,
	})

	if entry.CacheKey != "" {
		rec, err := m.cache.Match(ctx, entry.CacheKey)
		if err != nil {
			logger.Warnf("reconcile cache lookup: %v", err)
			return
		}
		if rec != nil {
			status := domain.StatusReady
			progress := 100
			cachedAt := rec.CachedAt
			if cachedAt == 0 {
				cachedAt = domain.NowMillis()
			}
			m.libraries.Update(ctx, userID, entry.ID, domain.EntryUpdate{
				Status:   &status,
				Progress: &progress,
				Size:     &rec.Size,
				CachedAt: &cachedAt,
			})
			logger.Info("reconciled orphaned entry to ready, payload already cached")
			return
		}
	}

	age := domain.NowMillis() - entry.CreatedAt
	if age > m.cfg.StaleTTL.Milliseconds() {
		status := domain.StatusFailed
		msg := "download interrupted before completion"
		m.libraries.Update(ctx, userID, entry.ID, domain.EntryUpdate{
			Status: &status,
			Error:  &msg,
		})
		logger.Info("reconciled stale orphaned entry to failed")
	}
}

var _ Manager = (*manager)(nil)
