package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"cinehub/internal/domain"
	"cinehub/internal/repository"
)

// LibraryService is the page-facing contract over the persistent library
// store. Reads never fail (a missing or unreadable record degrades to an
// empty library) and writes are best-effort: a storage failure is logged and
// swallowed, the caller proceeds as if the write succeeded.
type LibraryService interface {
	Library(ctx context.Context, userID string) domain.Library
	Save(ctx context.Context, userID string, library domain.Library)
	Append(ctx context.Context, userID string, entry domain.Entry)
	Update(ctx context.Context, userID, entryID string, upd domain.EntryUpdate)
	Remove(ctx context.Context, userID, entryID string) (domain.Entry, bool)
	UserIDs(ctx context.Context) []string
}

type libraryService struct {
	repo   repository.LibraryRepository
	logger *logrus.Logger
}

func NewLibraryService(repo repository.LibraryRepository, logger *logrus.Logger) LibraryService {
	if logger == nil {
		logger = logrus.New()
	}
	return &libraryService{repo: repo, logger: logger}
}

func (s *libraryService) Library(ctx context.Context, userID string) domain.Library {
	library, err := s.repo.Get(ctx, userID)
	if err != nil {
		s.logger.WithField("user_id", userID).Warnf("read library: %v", err)
		return domain.Library{}
	}
	return library
}

func (s *libraryService) Save(ctx context.Context, userID string, library domain.Library) {
	if err := s.repo.Save(ctx, userID, library); err != nil {
		// Durability degrades to "progress not recorded", never a crash.
		s.logger.WithField("user_id", userID).Warnf("save library: %v", err)
	}
}

func (s *libraryService) Append(ctx context.Context, userID string, entry domain.Entry) {
	library := s.Library(ctx, userID)
	library = append(library, entry)
	s.Save(ctx, userID, library)
}

// Update merges partial fields into the entry with the given id and no-ops
// silently when the id is unknown, covering the race where a background
// completion message lands after the entry was evicted.
//
// Message ordering per entry is not guaranteed end to end, so ordering is
// enforced here instead: progress reports that would regress receivedBytes,
// and any update against an entry already in a terminal state, are dropped.
func (s *libraryService) Update(ctx context.Context, userID, entryID string, upd domain.EntryUpdate) {
	library := s.Library(ctx, userID)
	idx := library.Find(entryID)
	if idx < 0 {
		return
	}

	entry := &library[idx]
	if entry.Status.Terminal() {
		return
	}
	if upd.Status == nil && upd.ReceivedBytes != nil && *upd.ReceivedBytes < entry.ReceivedBytes {
		return
	}

	if upd.Status != nil {
		entry.Status = *upd.Status
	}
	if upd.Progress != nil {
		entry.Progress = *upd.Progress
	}
	if upd.ReceivedBytes != nil {
		entry.ReceivedBytes = *upd.ReceivedBytes
	}
	if upd.TotalBytes != nil {
		entry.TotalBytes = *upd.TotalBytes
	}
	if upd.Size != nil {
		entry.Size = *upd.Size
	}
	if upd.CacheKey != nil {
		entry.CacheKey = *upd.CacheKey
	}
	if upd.CachedAt != nil {
		entry.CachedAt = *upd.CachedAt
	}
	if upd.Error != nil {
		entry.Error = *upd.Error
	}
	entry.UpdatedAt = domain.NowMillis()

	s.Save(ctx, userID, library)
}

func (s *libraryService) Remove(ctx context.Context, userID, entryID string) (domain.Entry, bool) {
	library := s.Library(ctx, userID)
	idx := library.Find(entryID)
	if idx < 0 {
		return domain.Entry{}, false
	}

	removed := library[idx]
	library = append(library[:idx], library[idx+1:]...)
	s.Save(ctx, userID, library)
	return removed, true
}

func (s *libraryService) UserIDs(ctx context.Context) []string {
	ids, err := s.repo.ListUserIDs(ctx)
	if err != nil {
		s.logger.Warnf("list library users: %v", err)
		return nil
	}
	return ids
}

var _ LibraryService = (*libraryService)(nil)
