package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"cinehub/internal/cache"
)

// Sink receives lifecycle updates from a running transfer. The foreground
// path drives it from the request goroutine, the background path from a
// worker goroutine; the engine itself is identical in both modes.
type Sink interface {
	Progress(ctx context.Context, receivedBytes, totalBytes int64, percent int)
	Complete(ctx context.Context, size int64, cacheKey, contentType string)
	Fail(ctx context.Context, message string)
}

// Enforcer frees cache capacity ahead of an incoming payload of the given
// size, sparing the entry the payload belongs to. Eviction is best-effort; a
// reservation error never fails a transfer.
type Enforcer interface {
	Reserve(ctx context.Context, neededBytes int64, excludeEntryID string) error
}

// Job describes one transfer: the entry it reports against and the source to
// stream.
type Job struct {
	EntryID  string
	UserID   string
	Title    string
	URL      string
	CacheKey string
}

type Config struct {
	// AllowedOrigin restricts which sources are committed to the cache. Empty
	// means everything is cacheable; otherwise only URLs sharing this
	// scheme://host are retained and cross-origin payloads are fetched,
	// reported complete, but not kept for offline replay.
	AllowedOrigin string
	// ProgressInterval throttles sink progress reports. Defaults to 500ms,
	// bounding write amplification on the store and the notification channel.
	ProgressInterval time.Duration
	Client           *http.Client
	Logger           *logrus.Logger
}

// Engine streams a source URL, reports progress, and commits the assembled
// payload to the binary cache. One attempt per entry: any failure is terminal
// and must be restarted by the user as a new entry.
type Engine struct {
	cfg      Config
	cache    cache.Store
	enforcer Enforcer
}

func NewEngine(cfg Config, store cache.Store, enforcer Enforcer) *Engine {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 500 * time.Millisecond
	}
	if cfg.Client == nil {
		// No timeout: large media transfers run as long as they need to.
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Engine{cfg: cfg, cache: store, enforcer: enforcer}
}

// Run executes the transfer and drives the sink to a terminal state. The
// entry is assumed to already exist with status downloading.
func (e *Engine) Run(ctx context.Context, job Job, sink Sink) {
	logger := e.cfg.Logger.WithField("entry_id", job.EntryID)

	if err := e.run(ctx, job, sink, logger); err != nil {
		logger.Errorf("download failed: %v", err)
		sink.Fail(ctx, err.Error())
	}
}

func (e *Engine) run(ctx context.Context, job Job, sink Sink, logger *logrus.Entry) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := e.cfg.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var totalBytes int64
	if resp.ContentLength > 0 {
		totalBytes = resp.ContentLength
	}

	var (
		body       bytes.Buffer
		received   int64
		lastReport time.Time
		buf        = make([]byte, 32*1024)
	)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			body.Write(buf[:n])
			received += int64(n)
			if time.Since(lastReport) >= e.cfg.ProgressInterval {
				sink.Progress(ctx, received, totalBytes, percentOf(received, totalBytes))
				lastReport = time.Now()
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fmt.Errorf("read stream: %w", readErr)
		}
	}

	payload := body.Bytes()
	if len(payload) == 0 {
		return errors.New("downloaded content is empty")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if e.enforcer != nil {
		if err := e.enforcer.Reserve(ctx, int64(len(payload)), job.EntryID); err != nil {
			logger.Warnf("capacity reservation: %v", err)
		}
	}

	cacheKey := job.CacheKey
	if e.cacheable(job.URL) {
		if err := e.cache.Put(ctx, cacheKey, payload, contentType); err != nil {
			return fmt.Errorf("cache write: %w", err)
		}
	} else {
		// Fetched and reported complete, but not retained for offline replay.
		logger.Infof("skipping cache for cross-origin source")
		cacheKey = ""
	}

	logger.Infof("download completed, %d bytes", len(payload))
	sink.Complete(ctx, int64(len(payload)), cacheKey, contentType)
	return nil
}

func (e *Engine) cacheable(sourceURL string) bool {
	if e.cfg.AllowedOrigin == "" {
		return true
	}
	src, err := url.Parse(sourceURL)
	if err != nil {
		return false
	}
	allowed, err := url.Parse(e.cfg.AllowedOrigin)
	if err != nil {
		return false
	}
	return src.Scheme == allowed.Scheme && src.Host == allowed.Host
}

// percentOf mirrors the progress contract: rounded percentage, 0 for
// unknown-length transfers, capped at 100 when a server under-declares
// its content length.
func percentOf(received, total int64) int {
	if total <= 0 {
		return 0
	}
	percent := int(math.Round(float64(received) / float64(total) * 100))
	if percent > 100 {
		percent = 100
	}
	return percent
}
