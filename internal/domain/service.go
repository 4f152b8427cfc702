package domain

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxPostsPerStream is the retention cap applied to every stream.
const DefaultMaxPostsPerStream = 200

// ReaderService is the core domain service. It owns the caller-side
// discipline around the store: gap marker bookkeeping on ingest, running
// purge passes against the stream registry, and the follow-state sweep.
type ReaderService struct {
	repo         PostRepository
	streams      StreamRegistry
	blogs        BlogRegistry
	sink         EventSink
	logger       *slog.Logger
	tracer       trace.Tracer
	maxPerStream int
}

// NewReaderService creates a ReaderService. maxPerStream <= 0 selects
// DefaultMaxPostsPerStream.
func NewReaderService(repo PostRepository, streams StreamRegistry, blogs BlogRegistry, sink EventSink, logger *slog.Logger, maxPerStream int) (*ReaderService, error) {
	if repo == nil {
		return nil, fmt.Errorf("post repository is required")
	}
	if streams == nil {
		return nil, fmt.Errorf("stream registry is required")
	}
	if blogs == nil {
		return nil, fmt.Errorf("blog registry is required")
	}
	if sink == nil {
		sink = discardSink{}
	}
	if maxPerStream <= 0 {
		maxPerStream = DefaultMaxPostsPerStream
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ReaderService{
		repo:         repo,
		streams:      streams,
		blogs:        blogs,
		sink:         sink,
		logger:       logger,
		tracer:       otel.Tracer("github.com/blackmichael/readercache/internal/domain"),
		maxPerStream: maxPerStream,
	}, nil
}

// MaxPostsPerStream returns the retention cap used by RunPurge.
func (s *ReaderService) MaxPostsPerStream() int {
	return s.maxPerStream
}

// Ingest stores a fetched batch. It classifies the batch against the
// cache first, so the result reflects the state before the write.
func (s *ReaderService) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	ctx, span := s.tracer.Start(ctx, "ReaderService.Ingest", trace.WithAttributes(
		attribute.Int("posts", len(req.Posts)),
		attribute.String("action", req.Action.String()),
	))
	defer span.End()

	var res IngestResult
	if len(req.Posts) == 0 {
		return res, nil
	}

	result, err := s.repo.CompareIncomingBatch(ctx, req.Posts)
	if err != nil {
		return res, fmt.Errorf("compare batch: %w", err)
	}
	res.Result = result

	if req.Stream == nil {
		if err := s.repo.UpsertBatch(ctx, nil, req.Posts); err != nil {
			return res, fmt.Errorf("upsert batch: %w", err)
		}
		return res, nil
	}
	stream, err := s.ResolveStream(ctx, *req.Stream)
	if err != nil {
		return res, err
	}

	switch req.Action {
	case RequestNewer:
		hasGap, err := s.detectGap(ctx, stream, req.Posts)
		if err != nil {
			return res, err
		}
		if hasGap {
			if err := s.repo.ClearGapMarker(ctx, stream); err != nil {
				return res, fmt.Errorf("clear gap marker: %w", err)
			}
		}
		if err := s.repo.UpsertBatch(ctx, &stream, req.Posts); err != nil {
			return res, fmt.Errorf("upsert batch: %w", err)
		}
		if hasGap {
			oldest := req.Posts[len(req.Posts)-1]
			marked, err := s.repo.SetGapMarker(ctx, oldest.BlogID, oldest.PostID, stream)
			if err != nil {
				return res, fmt.Errorf("set gap marker: %w", err)
			}
			res.GapMarked = marked
			if marked {
				s.logger.Debug("gap marker set", "stream", stream.String(), "blog_id", oldest.BlogID, "post_id", oldest.PostID)
			} else {
				s.logger.Warn("gap marker post not stored", "stream", stream.String(), "blog_id", oldest.BlogID, "post_id", oldest.PostID)
			}
		}

	case RequestOlderThanGap:
		deleted, err := s.deleteBeforeGapMarker(ctx, stream)
		if err != nil {
			return res, err
		}
		res.DeletedBeforeGap = deleted
		if err := s.repo.ClearGapMarker(ctx, stream); err != nil {
			return res, fmt.Errorf("clear gap marker: %w", err)
		}
		if err := s.repo.UpsertBatch(ctx, &stream, req.Posts); err != nil {
			return res, fmt.Errorf("upsert batch: %w", err)
		}

	default:
		if err := s.repo.UpsertBatch(ctx, &stream, req.Posts); err != nil {
			return res, fmt.Errorf("upsert batch: %w", err)
		}
	}

	return res, nil
}

// detectGap reports whether a batch of newest posts leaves a hole between
// itself and what is already cached for the stream. Only blog posts can
// carry a gap marker.
func (s *ReaderService) detectGap(ctx context.Context, stream Stream, posts []Post) (bool, error) {
	if stream.IsSearch() || posts[len(posts)-1].BlogID == 0 {
		return false, nil
	}
	count, err := s.repo.CountInStream(ctx, stream)
	if err != nil {
		return false, fmt.Errorf("count stream: %w", err)
	}
	if count == 0 {
		return false, nil
	}
	overlap, err := s.repo.HasOverlap(ctx, posts)
	if err != nil {
		return false, fmt.Errorf("check overlap: %w", err)
	}
	return !overlap, nil
}

// ResolveStream returns the registered descriptor of stream, which carries
// the endpoint that decides its sort order. Unregistered streams are
// returned as given.
func (s *ReaderService) ResolveStream(ctx context.Context, stream Stream) (Stream, error) {
	registered, err := s.streams.LookupStream(ctx, stream.Name, stream.Type)
	if err != nil {
		return Stream{}, fmt.Errorf("look up stream %s: %w", stream, err)
	}
	if registered == nil {
		return stream, nil
	}
	return *registered, nil
}

// DeleteBeforeGapMarker drops the stream's rows older than its gap marker.
func (s *ReaderService) DeleteBeforeGapMarker(ctx context.Context, stream Stream) (int64, error) {
	stream, err := s.ResolveStream(ctx, stream)
	if err != nil {
		return 0, err
	}
	return s.deleteBeforeGapMarker(ctx, stream)
}

func (s *ReaderService) deleteBeforeGapMarker(ctx context.Context, stream Stream) (int64, error) {
	deleted, err := s.repo.DeleteBeforeGapMarker(ctx, stream)
	if err != nil {
		return 0, fmt.Errorf("delete before gap marker: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("removed posts older than gap marker", "stream", stream.String(), "deleted", deleted)
		s.sink.Emit(Event{Kind: EventGapMarkerPurged, Stream: stream.Name, Count: deleted})
	}
	return deleted, nil
}

// RunPurge runs one retention pass over every known stream and returns
// the number of post rows removed.
func (s *ReaderService) RunPurge(ctx context.Context) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "ReaderService.RunPurge")
	defer span.End()

	known, err := s.streams.Streams(ctx)
	if err != nil {
		return 0, fmt.Errorf("list streams: %w", err)
	}

	report, err := s.repo.Purge(ctx, known, s.maxPerStream)
	if err != nil {
		s.logger.Error("post purge failed", "error", err)
		return 0, fmt.Errorf("purge: %w", err)
	}

	if report.Orphaned > 0 {
		s.logger.Info("purged orphaned posts", "deleted", report.Orphaned)
		s.sink.Emit(Event{Kind: EventPostsPurged, Count: report.Orphaned})
	}
	for stream, n := range report.PerStream {
		if n == 0 {
			continue
		}
		s.logger.Info("purged posts in stream", "stream", stream.String(), "deleted", n)
		s.sink.Emit(Event{Kind: EventPostsPurged, Stream: stream.Name, Count: n})
	}
	if report.Search > 0 {
		s.logger.Info("purged search results", "deleted", report.Search)
		s.sink.Emit(Event{Kind: EventPostsPurged, Stream: StreamSearch.String(), Count: report.Search})
	}
	if report.Content > 0 {
		s.sink.Emit(Event{Kind: EventContentPurged, Count: report.Content})
	}

	total := report.Total()
	span.SetAttributes(attribute.Int64("deleted", total))
	if total > 0 {
		s.logger.Info("post purge complete", "deleted", total, "content_deleted", report.Content)
	}
	return total, nil
}

// ReconcileFollowedStatus clears the followed flag on posts whose blog is
// no longer followed.
func (s *ReaderService) ReconcileFollowedStatus(ctx context.Context) (int64, error) {
	followed, err := s.blogs.FollowedBlogIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list followed blogs: %w", err)
	}
	n, err := s.repo.ReconcileFollowedStatus(ctx, followed)
	if err != nil {
		return 0, fmt.Errorf("reconcile followed status: %w", err)
	}
	if n > 0 {
		s.logger.Info("marked posts unfollowed", "count", n)
		s.sink.Emit(Event{Kind: EventPostsMarkedUnfollowed, Count: n})
	}
	return n, nil
}

// SetFollowStatus updates every cached post of a blog or feed.
func (s *ReaderService) SetFollowStatus(ctx context.Context, kind OwnerKind, ownerID int64, followed bool) error {
	return s.repo.SetFollowStatus(ctx, kind, ownerID, followed)
}

// SetLikes updates the like count and liked flag of a post in every stream.
func (s *ReaderService) SetLikes(ctx context.Context, blogID, postID int64, numLikes int, liked bool) error {
	return s.repo.SetLikes(ctx, blogID, postID, numLikes, liked)
}

// PostsInStream returns the visible posts of a stream, newest first.
func (s *ReaderService) PostsInStream(ctx context.Context, stream Stream, max int) ([]Post, error) {
	stream, err := s.ResolveStream(ctx, stream)
	if err != nil {
		return nil, err
	}
	return s.repo.PostsInStream(ctx, stream, max)
}

// FindPost returns a single post or nil.
func (s *ReaderService) FindPost(ctx context.Context, kind OwnerKind, ownerID, localID int64, includeContent bool) (*Post, error) {
	return s.repo.FindPost(ctx, kind, ownerID, localID, includeContent)
}

type discardSink struct{}

func (discardSink) Emit(Event) {}
