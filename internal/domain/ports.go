package domain

import "context"

// PostRepository defines persistence operations for cached reader posts.
type PostRepository interface {
	// UpsertBatch replaces every post in posts, tagged with stream (or the
	// owner's own view when stream is nil), in one transaction.
	UpsertBatch(ctx context.Context, stream *Stream, posts []Post) error

	// FindPost returns the post addressed by owner and local id, or nil
	// if it is not stored.
	FindPost(ctx context.Context, kind OwnerKind, ownerID, localID int64, includeContent bool) (*Post, error)

	// CompareIncomingBatch classifies posts against the stored copies.
	CompareIncomingBatch(ctx context.Context, posts []Post) (UpdateResult, error)

	// HasOverlap reports whether any of posts is already stored.
	HasOverlap(ctx context.Context, posts []Post) (bool, error)

	// CountInStream returns the number of rows stored for stream.
	CountInStream(ctx context.Context, stream Stream) (int, error)

	// PostsInStream returns up to max visible posts of stream in display
	// order. max <= 0 means no limit.
	PostsInStream(ctx context.Context, stream Stream, max int) ([]Post, error)

	SetLikes(ctx context.Context, blogID, postID int64, numLikes int, liked bool) error
	SetFollowStatus(ctx context.Context, kind OwnerKind, ownerID int64, followed bool) error
	ReconcileFollowedStatus(ctx context.Context, followedBlogIDs []int64) (int64, error)

	// Purge runs one retention pass and reports what it removed.
	Purge(ctx context.Context, known []Stream, maxPerStream int) (PurgeReport, error)

	ClearGapMarker(ctx context.Context, stream Stream) error

	// SetGapMarker marks the stream's copy of a blog post and reports
	// whether such a row existed.
	SetGapMarker(ctx context.Context, blogID, postID int64, stream Stream) (bool, error)

	GapMarkerLocation(ctx context.Context, stream Stream) (*PostRef, error)
	DeleteBeforeGapMarker(ctx context.Context, stream Stream) (int64, error)
}

// StreamRegistry supplies the authoritative list of known streams.
type StreamRegistry interface {
	Streams(ctx context.Context) ([]Stream, error)

	// LookupStream returns the registered stream with the given name
	// (case-insensitive) and type, or nil if none is registered.
	LookupStream(ctx context.Context, name string, typ StreamType) (*Stream, error)
}

// BlogRegistry supplies the set of blogs the current user follows.
type BlogRegistry interface {
	// FollowedBlogIDs returns the blog ids of followed entries. A followed
	// feed without a blog contributes id 0.
	FollowedBlogIDs(ctx context.Context) ([]int64, error)
}

// EventSink receives informational events. Implementations must not
// block and must not fail.
type EventSink interface {
	Emit(Event)
}

// EventKind names an informational event.
type EventKind string

const (
	EventPostsPurged           EventKind = "posts_purged"
	EventContentPurged         EventKind = "content_purged"
	EventPostsMarkedUnfollowed EventKind = "posts_marked_unfollowed"
	EventGapMarkerPurged       EventKind = "gap_marker_purged"
)

// Event is a fire-and-forget observation about store maintenance.
type Event struct {
	Kind   EventKind
	Stream string
	Count  int64
}

// PurgeReport breaks down the rows removed by one purge pass.
type PurgeReport struct {
	Orphaned  int64
	PerStream map[Stream]int64
	Search    int64
	Content   int64
}

// Total returns the post rows removed; content rows are not counted.
func (r PurgeReport) Total() int64 {
	total := r.Orphaned + r.Search
	for _, n := range r.PerStream {
		total += n
	}
	return total
}
