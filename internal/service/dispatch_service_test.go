package service_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinehub/internal/cache"
	"cinehub/internal/domain"
	"cinehub/internal/notify"
	"cinehub/internal/service"
	"cinehub/internal/transfer"
	"cinehub/internal/worker"
)

func newDispatchFixture(store cache.Store, background worker.Manager) (*service.DispatchService, service.LibraryService) {
	libraries := service.NewLibraryService(newMemRepo(), quietLogger())
	capacity := service.NewCapacityService(service.CapacityConfig{
		MaxBytes: 1000 * mib,
		Logger:   quietLogger(),
	}, libraries, store)
	relay := notify.NewRelay(libraries, notify.NewBus())
	engine := transfer.NewEngine(transfer.Config{
		ProgressInterval: time.Millisecond,
		Logger:           quietLogger(),
	}, store, capacity)
	dispatch := service.NewDispatchService(libraries, capacity, store, background, engine, relay, quietLogger())
	return dispatch, libraries
}

func TestStartDownloadRequiresIdentity(t *testing.T) {
	dispatch, _ := newDispatchFixture(newFakeCache(), nil)

	_, _, err := dispatch.StartDownload(context.Background(), "", service.DownloadRequest{
		Title: "Movie", URL: "https://media.example.com/m.mp4",
	})
	assert.ErrorIs(t, err, service.ErrNotSignedIn)
}

func TestStartDownloadRequiresCacheStore(t *testing.T) {
	dispatch, _ := newDispatchFixture(nil, nil)

	_, _, err := dispatch.StartDownload(context.Background(), "u1", service.DownloadRequest{
		Title: "Movie", URL: "https://media.example.com/m.mp4",
	})
	assert.ErrorIs(t, err, service.ErrCacheUnsupported)
}

func TestStartDownloadRequiresURLAndTitle(t *testing.T) {
	dispatch, _ := newDispatchFixture(newFakeCache(), nil)
	ctx := context.Background()

	_, _, err := dispatch.StartDownload(ctx, "u1", service.DownloadRequest{Title: "Movie"})
	assert.Error(t, err)

	_, _, err = dispatch.StartDownload(ctx, "u1", service.DownloadRequest{URL: "https://media.example.com/m.mp4"})
	assert.Error(t, err)
}

func TestStartDownloadRejectsUnknownMediaType(t *testing.T) {
	dispatch, _ := newDispatchFixture(newFakeCache(), nil)

	_, _, err := dispatch.StartDownload(context.Background(), "u1", service.DownloadRequest{
		Title: "Movie", URL: "https://media.example.com/m.mp4", MediaType: "podcast",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "media type")
}

func TestStartDownloadDefaultsMediaTypeToMovie(t *testing.T) {
	dispatch, _ := newDispatchFixture(newFakeCache(), &fakeWorker{ready: true})

	entry, _, err := dispatch.StartDownload(context.Background(), "u1", service.DownloadRequest{
		Title: "Movie", URL: "https://media.example.com/m.mp4",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MediaTypeMovie, entry.MediaType)
}

func TestStartDownloadTrimsOverBudgetLibraryFirst(t *testing.T) {
	store := newFakeCache()
	dispatch, libraries := newDispatchFixture(store, &fakeWorker{ready: true})
	ctx := context.Background()

	libraries.Save(ctx, "u1", domain.Library{
		{ID: "oldest", Status: domain.StatusReady, Size: 700 * mib, CacheKey: "k-oldest", CachedAt: 1000},
		{ID: "newer", Status: domain.StatusReady, Size: 600 * mib, CacheKey: "k-newer", CachedAt: 2000},
	})

	entry, _, err := dispatch.StartDownload(ctx, "u1", service.DownloadRequest{
		Title: "Movie", URL: "https://media.example.com/m.mp4",
	})
	require.NoError(t, err)

	library := libraries.Library(ctx, "u1")
	require.Len(t, library, 2)
	assert.Equal(t, "newer", library[0].ID)
	assert.Equal(t, entry.ID, library[1].ID)
	assert.Contains(t, store.deleted, "k-oldest")
}

func TestStartDownloadRoutesToBackgroundWorker(t *testing.T) {
	bg := &fakeWorker{ready: true}
	dispatch, libraries := newDispatchFixture(newFakeCache(), bg)

	entry, background, err := dispatch.StartDownload(context.Background(), "u1", service.DownloadRequest{
		Title:     "Movie",
		URL:       "https://media.example.com/m.mp4",
		MediaType: domain.MediaTypeMovie,
		Quality:   "1080p",
	})
	require.NoError(t, err)
	assert.True(t, background)
	assert.Equal(t, domain.StatusDownloading, entry.Status)

	require.Len(t, bg.enqueued, 1)
	cmd := bg.enqueued[0]
	assert.Equal(t, entry.ID, cmd.EntryID)
	assert.Equal(t, "u1", cmd.UserID)
	assert.Equal(t, domain.CacheKey("https://media.example.com/m.mp4", entry.ID), cmd.CacheKey)

	// The entry is persisted before any bytes move.
	library := libraries.Library(context.Background(), "u1")
	require.Len(t, library, 1)
	assert.Equal(t, entry.ID, library[0].ID)
	assert.Equal(t, "1080p", library[0].Quality)
}

func TestStartDownloadForegroundSuccess(t *testing.T) {
	payload := []byte("movie payload bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	store := newFakeCache()
	dispatch, _ := newDispatchFixture(store, &fakeWorker{ready: false})

	entry, background, err := dispatch.StartDownload(context.Background(), "u1", service.DownloadRequest{
		Title: "Movie", URL: srv.URL + "/m.mp4",
	})
	require.NoError(t, err)
	assert.False(t, background)

	assert.Equal(t, domain.StatusReady, entry.Status)
	assert.Equal(t, 100, entry.Progress)
	assert.Equal(t, int64(len(payload)), entry.Size)
	assert.NotZero(t, entry.CachedAt)

	rec, err := store.Match(context.Background(), entry.CacheKey)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, payload, rec.Payload)
	assert.Equal(t, "video/mp4", rec.ContentType)
}

func TestStartDownloadForegroundSourceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	store := newFakeCache()
	dispatch, _ := newDispatchFixture(store, nil)

	entry, background, err := dispatch.StartDownload(context.Background(), "u1", service.DownloadRequest{
		Title: "Movie", URL: srv.URL + "/missing.mp4",
	})
	require.NoError(t, err)
	assert.False(t, background)

	assert.Equal(t, domain.StatusFailed, entry.Status)
	assert.Contains(t, entry.Error, "404")
	assert.Empty(t, store.records)
}

func TestStartDownloadForegroundEmptyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dispatch, _ := newDispatchFixture(newFakeCache(), nil)

	entry, _, err := dispatch.StartDownload(context.Background(), "u1", service.DownloadRequest{
		Title: "Movie", URL: srv.URL + "/empty.mp4",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, entry.Status)
	assert.Equal(t, "downloaded content is empty", entry.Error)
}

func TestStartDownloadFallsBackWhenEnqueueFails(t *testing.T) {
	payload := []byte("fallback payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	bg := &fakeWorker{ready: true, enqueueErr: worker.ErrNotReady}
	dispatch, _ := newDispatchFixture(newFakeCache(), bg)

	entry, background, err := dispatch.StartDownload(context.Background(), "u1", service.DownloadRequest{
		Title: "Movie", URL: srv.URL + "/m.mp4",
	})
	require.NoError(t, err)
	assert.False(t, background)
	assert.Equal(t, domain.StatusReady, entry.Status)
}
