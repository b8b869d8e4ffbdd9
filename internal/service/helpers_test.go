package service_test

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"cinehub/internal/cache"
	"cinehub/internal/domain"
	"cinehub/internal/worker"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// memRepo is an in-memory LibraryRepository for exercising the services
// without sqlite.
type memRepo struct {
	mu        sync.Mutex
	libraries map[string]domain.Library
	getErr    error
	saveErr   error
}

func newMemRepo() *memRepo {
	return &memRepo{libraries: make(map[string]domain.Library)}
}

func (r *memRepo) Init(ctx context.Context) error { return nil }

func (r *memRepo) Get(ctx context.Context, userID string) (domain.Library, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	library := make(domain.Library, len(r.libraries[userID]))
	copy(library, r.libraries[userID])
	return library, nil
}

func (r *memRepo) Save(ctx context.Context, userID string, library domain.Library) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	stored := make(domain.Library, len(library))
	copy(stored, library)
	r.libraries[userID] = stored
	return nil
}

func (r *memRepo) Delete(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.libraries, userID)
	return nil
}

func (r *memRepo) ListUserIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.libraries))
	for id := range r.libraries {
		ids = append(ids, id)
	}
	return ids, nil
}

// fakeCache records puts and deletes so tests can assert eviction behavior.
type fakeCache struct {
	mu      sync.Mutex
	records map[string]*cache.Record
	deleted []string
	putErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{records: make(map[string]*cache.Record)}
}

func (c *fakeCache) Put(ctx context.Context, key string, payload []byte, contentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.putErr != nil {
		return c.putErr
	}
	if len(payload) == 0 {
		return cache.ErrEmptyPayload
	}
	c.records[key] = &cache.Record{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(payload)),
		CachedAt:    domain.NowMillis(),
		Payload:     append([]byte(nil), payload...),
	}
	return nil
}

func (c *fakeCache) Match(ctx context.Context, key string) (*cache.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key]
	if !ok {
		return nil, nil
	}
	return rec, nil
}

func (c *fakeCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, key)
	c.deleted = append(c.deleted, key)
	return nil
}

func (c *fakeCache) Usage(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, rec := range c.records {
		total += rec.Size
	}
	return total, nil
}

// fakeWorker captures enqueued commands instead of running transfers.
type fakeWorker struct {
	ready      bool
	enqueueErr error
	enqueued   []worker.StartDownload
}

func (w *fakeWorker) Start(ctx context.Context) error { return nil }
func (w *fakeWorker) Shutdown()                       {}
func (w *fakeWorker) Ready() bool                     { return w.ready }

func (w *fakeWorker) Enqueue(cmd worker.StartDownload) error {
	if w.enqueueErr != nil {
		return w.enqueueErr
	}
	w.enqueued = append(w.enqueued, cmd)
	return nil
}

func (w *fakeWorker) Reconcile(ctx context.Context) error { return nil }
