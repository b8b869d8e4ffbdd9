package service

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"cinehub/internal/cache"
	"cinehub/internal/domain"
)

// DefaultMaxOfflineBytes is the reference deployment's cache budget.
const DefaultMaxOfflineBytes = 1 << 30 // 1 GiB

type CapacityConfig struct {
	// MaxBytes is the byte budget the binary cache may hold before eviction
	// triggers. The budget is per device, shared across every user's library:
	// one user's downloads can evict another user's cached entries.
	MaxBytes int64
	// HeadroomPercent refuses new downloads when the cache volume's free
	// space drops below this percentage of MaxBytes.
	HeadroomPercent int
	// CacheDir is the path probed for free space. Empty disables the check.
	CacheDir string
	Logger   *logrus.Logger
}

// CapacityService keeps total cached bytes under the configured budget by
// evicting oldest completed entries, and gates new downloads on device
// storage headroom.
type CapacityService struct {
	cfg       CapacityConfig
	libraries LibraryService
	cache     cache.Store
}

func NewCapacityService(cfg CapacityConfig, libraries LibraryService, store cache.Store) *CapacityService {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxOfflineBytes
	}
	if cfg.HeadroomPercent <= 0 {
		cfg.HeadroomPercent = 20
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &CapacityService{cfg: cfg, libraries: libraries, cache: store}
}

// EnforceLimit trims one user's library until its total size plus neededBytes
// fits the budget. Entries are evicted oldest-completed-first; entries with no
// cachedAt (still downloading) sort as age zero and go first. Eviction stops
// the moment the budget is satisfied. The trimmed library is returned; the
// caller persists it.
func (s *CapacityService) EnforceLimit(ctx context.Context, userID string, library domain.Library, neededBytes int64) domain.Library {
	updated := make(domain.Library, len(library))
	copy(updated, library)

	total := updated.TotalSize()
	if total+neededBytes <= s.cfg.MaxBytes {
		return updated
	}

	sort.SliceStable(updated, func(i, j int) bool {
		return updated[i].CachedAt < updated[j].CachedAt
	})

	for len(updated) > 0 && total+neededBytes > s.cfg.MaxBytes {
		head := updated[0]
		updated = updated[1:]
		s.evict(ctx, userID, head)
		total -= head.Size
	}

	return updated
}

// Reserve frees device-wide capacity for an incoming payload. Accounting
// spans every user's library on this device; eviction order is global
// oldest-first. The entry the payload belongs to is excluded, since an
// in-progress entry sorts as age zero and would otherwise evict itself.
func (s *CapacityService) Reserve(ctx context.Context, neededBytes int64, excludeEntryID string) error {
	users := s.libraries.UserIDs(ctx)

	libs := make(map[string]domain.Library, len(users))
	var total int64
	for _, userID := range users {
		lib := s.libraries.Library(ctx, userID)
		libs[userID] = lib
		total += lib.TotalSize()
	}

	// The cache can hold bytes no library references, e.g. after a crash
	// between a cache commit and the library update, so accounting trusts
	// whichever count is larger.
	if s.cache != nil {
		if usage, err := s.cache.Usage(ctx); err != nil {
			s.cfg.Logger.Warnf("cache usage: %v", err)
		} else if usage > total {
			total = usage
		}
	}

	if total+neededBytes <= s.cfg.MaxBytes {
		return nil
	}

	type candidate struct {
		userID string
		entry  domain.Entry
	}
	var candidates []candidate
	for userID, lib := range libs {
		for i := range lib {
			if lib[i].ID == excludeEntryID {
				continue
			}
			candidates = append(candidates, candidate{userID: userID, entry: lib[i]})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].entry.CachedAt < candidates[j].entry.CachedAt
	})

	dirty := make(map[string]bool)
	for _, c := range candidates {
		if total+neededBytes <= s.cfg.MaxBytes {
			break
		}
		lib := libs[c.userID]
		idx := lib.Find(c.entry.ID)
		if idx < 0 {
			continue
		}
		libs[c.userID] = append(lib[:idx], lib[idx+1:]...)
		dirty[c.userID] = true
		s.evict(ctx, c.userID, c.entry)
		total -= c.entry.Size
	}

	for userID := range dirty {
		s.libraries.Save(ctx, userID, libs[userID])
	}
	return nil
}

func (s *CapacityService) evict(ctx context.Context, userID string, entry domain.Entry) {
	logger := s.cfg.Logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"entry_id": entry.ID,
	})
	if entry.CacheKey != "" {
		if err := s.cache.Delete(ctx, entry.CacheKey); err != nil {
			logger.Warnf("evict cache record: %v", err)
		}
	}
	logger.Infof("evicted %q (%d bytes) to reclaim cache budget", entry.Title, entry.Size)
}

// StorageAvailable probes the cache volume and reports whether enough free
// space remains to start another download. An unreadable volume degrades to
// available rather than blocking downloads on a probe failure.
func (s *CapacityService) StorageAvailable() bool {
	if s.cfg.CacheDir == "" {
		return true
	}
	_, free, err := getDiskStats(s.cfg.CacheDir)
	if err != nil {
		s.cfg.Logger.Warnf("storage estimate: %v", err)
		return true
	}
	margin := uint64(s.cfg.MaxBytes) * uint64(s.cfg.HeadroomPercent) / 100
	return free > margin
}
