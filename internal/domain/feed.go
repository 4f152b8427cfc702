package domain

import "fmt"

// UpdateAction says which part of a stream's history a fetched batch
// belongs to. It drives gap marker bookkeeping during ingest.
type UpdateAction int

const (
	// RequestNewer is a batch of the newest posts. If it does not overlap
	// what is cached, a gap exists below it.
	RequestNewer UpdateAction = iota

	// RequestOlder is a batch older than the oldest cached post.
	RequestOlder

	// RequestOlderThanGap fills the gap below the stream's gap marker.
	// Cached posts older than the marker are discarded first.
	RequestOlderThanGap
)

func (a UpdateAction) String() string {
	switch a {
	case RequestOlder:
		return "older"
	case RequestOlderThanGap:
		return "older_than_gap"
	default:
		return "newer"
	}
}

// ParseUpdateAction is the inverse of UpdateAction.String.
func ParseUpdateAction(s string) (UpdateAction, error) {
	switch s {
	case "newer", "":
		return RequestNewer, nil
	case "older":
		return RequestOlder, nil
	case "older_than_gap":
		return RequestOlderThanGap, nil
	}
	return 0, fmt.Errorf("unknown update action %q", s)
}

// IngestRequest is one already-parsed batch handed over by the fetch layer.
type IngestRequest struct {
	// Stream is nil for posts fetched from a single blog or feed.
	Stream *Stream
	Posts  []Post
	Action UpdateAction
}

// IngestResult reports what an ingest changed.
type IngestResult struct {
	Result UpdateResult

	// GapMarked is set when the batch left a gap below it and the oldest
	// post in the batch now carries the stream's gap marker.
	GapMarked bool

	// DeletedBeforeGap counts rows dropped while filling a gap.
	DeletedBeforeGap int64
}
