package notify

import "context"

// EntrySink binds a relay to one entry so a transfer engine can report
// lifecycle updates without knowing who owns the download. It satisfies the
// transfer engine's sink contract for both the foreground and background
// execution paths; the paths differ only in which context drives the engine.
type EntrySink struct {
	relay   *Relay
	userID  string
	entryID string
	title   string
}

func NewEntrySink(relay *Relay, userID, entryID, title string) *EntrySink {
	return &EntrySink{
		relay:   relay,
		userID:  userID,
		entryID: entryID,
		title:   title,
	}
}

func (s *EntrySink) Progress(ctx context.Context, receivedBytes, totalBytes int64, percent int) {
	s.relay.Progress(ctx, ProgressPayload{
		EntryID:       s.entryID,
		UserID:        s.userID,
		ReceivedBytes: receivedBytes,
		TotalBytes:    totalBytes,
		Progress:      percent,
	})
}

func (s *EntrySink) Complete(ctx context.Context, size int64, cacheKey, contentType string) {
	s.relay.Complete(ctx, CompletePayload{
		EntryID:  s.entryID,
		UserID:   s.userID,
		Title:    s.title,
		CacheKey: cacheKey,
		Size:     size,
	})
}

func (s *EntrySink) Fail(ctx context.Context, message string) {
	s.relay.Failed(ctx, FailedPayload{
		EntryID: s.entryID,
		UserID:  s.userID,
		Error:   message,
	})
}
