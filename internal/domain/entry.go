package domain

import (
	"strings"
	"time"
)

type EntryStatus string

const (
	StatusDownloading EntryStatus = "downloading"
	StatusReady       EntryStatus = "ready"
	StatusFailed      EntryStatus = "failed"
)

// Terminal reports whether the status admits no further transitions. A ready or
// failed entry can only be superseded by a brand-new entry with a new id.
func (s EntryStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

type MediaType string

const (
	MediaTypeMovie    MediaType = "movie"
	MediaTypeSubtitle MediaType = "subtitle"
)

// Valid reports whether the media type is one of the known kinds.
func (m MediaType) Valid() bool {
	return m == MediaTypeMovie || m == MediaTypeSubtitle
}

// Entry tracks one user-initiated offline download and its lifecycle state.
// Timestamps are epoch milliseconds. TotalBytes of 0 means the server did not
// report a content length. An empty CacheKey means the payload was not retained
// for offline replay (cross-origin source or cache-write refusal) and the entry
// must never be treated as playable from cache.
type Entry struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	MediaType     MediaType   `json:"mediaType"`
	Quality       string      `json:"quality,omitempty"`
	Language      string      `json:"language,omitempty"`
	Status        EntryStatus `json:"status"`
	Progress      int         `json:"progress"`
	ReceivedBytes int64       `json:"receivedBytes"`
	TotalBytes    int64       `json:"totalBytes"`
	Size          int64       `json:"size"`
	CacheKey      string      `json:"cacheKey,omitempty"`
	CreatedAt     int64       `json:"createdAt"`
	CachedAt      int64       `json:"cachedAt,omitempty"`
	UpdatedAt     int64       `json:"updatedAt,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// Library is the ordered sequence of one user's download entries. It is the
// sole source of truth for rendering download state.
type Library []Entry

// TotalSize sums the final byte size of every entry, cached or not.
func (l Library) TotalSize() int64 {
	var total int64
	for i := range l {
		total += l[i].Size
	}
	return total
}

// Find returns the index of the entry with the given id, or -1.
func (l Library) Find(id string) int {
	for i := range l {
		if l[i].ID == id {
			return i
		}
	}
	return -1
}

// EntryUpdate is a partial mutation of a library entry. Nil fields are left
// untouched by a merge.
type EntryUpdate struct {
	Status        *EntryStatus
	Progress      *int
	ReceivedBytes *int64
	TotalBytes    *int64
	Size          *int64
	CacheKey      *string
	CachedAt      *int64
	Error         *string
}

// CacheKey derives the key under which a download's payload is addressed in
// the binary cache: the source URL with an offline marker and the entry id
// appended, so payloads stay independently addressable even when several
// entries reference the same source.
func CacheKey(sourceURL, entryID string) string {
	sep := "?"
	if strings.Contains(sourceURL, "?") {
		sep = "&"
	}
	return sourceURL + sep + "offline=1&entry=" + entryID
}

// NowMillis is the timestamp representation used throughout entries.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
