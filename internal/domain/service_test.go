package domain_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/readercache/internal/domain"
)

// fakeRepo records the calls made by the service and replays canned
// answers for the read operations it consults.
type fakeRepo struct {
	domain.PostRepository

	calls []string

	compareResult domain.UpdateResult
	count         int
	overlap       bool
	deleted       int64
	report        domain.PurgeReport
	reconciled    int64
	purgeErr      error

	gapBlog, gapPost int64
	gapRowMissing    bool
	listed           []domain.Stream
	upserted         []domain.Stream
	purgeKnown       []domain.Stream
	purgeMax         int
	followedIDs      []int64
}

func (f *fakeRepo) CompareIncomingBatch(context.Context, []domain.Post) (domain.UpdateResult, error) {
	f.calls = append(f.calls, "compare")
	return f.compareResult, nil
}

func (f *fakeRepo) UpsertBatch(_ context.Context, stream *domain.Stream, _ []domain.Post) error {
	f.calls = append(f.calls, "upsert")
	if stream != nil {
		f.upserted = append(f.upserted, *stream)
	}
	return nil
}

func (f *fakeRepo) CountInStream(context.Context, domain.Stream) (int, error) {
	f.calls = append(f.calls, "count")
	return f.count, nil
}

func (f *fakeRepo) HasOverlap(context.Context, []domain.Post) (bool, error) {
	f.calls = append(f.calls, "overlap")
	return f.overlap, nil
}

func (f *fakeRepo) ClearGapMarker(context.Context, domain.Stream) error {
	f.calls = append(f.calls, "clear")
	return nil
}

func (f *fakeRepo) SetGapMarker(_ context.Context, blogID, postID int64, _ domain.Stream) (bool, error) {
	f.calls = append(f.calls, "mark")
	f.gapBlog, f.gapPost = blogID, postID
	return !f.gapRowMissing, nil
}

func (f *fakeRepo) PostsInStream(_ context.Context, stream domain.Stream, _ int) ([]domain.Post, error) {
	f.listed = append(f.listed, stream)
	return nil, nil
}

func (f *fakeRepo) DeleteBeforeGapMarker(context.Context, domain.Stream) (int64, error) {
	f.calls = append(f.calls, "delete_before_gap")
	return f.deleted, nil
}

func (f *fakeRepo) Purge(_ context.Context, known []domain.Stream, max int) (domain.PurgeReport, error) {
	f.calls = append(f.calls, "purge")
	f.purgeKnown, f.purgeMax = known, max
	return f.report, f.purgeErr
}

func (f *fakeRepo) ReconcileFollowedStatus(_ context.Context, ids []int64) (int64, error) {
	f.calls = append(f.calls, "reconcile")
	f.followedIDs = ids
	return f.reconciled, nil
}

type fakeStreams []domain.Stream

func (s fakeStreams) Streams(context.Context) ([]domain.Stream, error) { return s, nil }

func (s fakeStreams) LookupStream(_ context.Context, name string, typ domain.StreamType) (*domain.Stream, error) {
	for _, stream := range s {
		if strings.EqualFold(stream.Name, name) && stream.Type == typ {
			return &stream, nil
		}
	}
	return nil, nil
}

type fakeBlogs struct {
	ids []int64
	err error
}

func (b fakeBlogs) FollowedBlogIDs(context.Context) ([]int64, error) { return b.ids, b.err }

type recordingSink struct {
	events []domain.Event
}

func (s *recordingSink) Emit(e domain.Event) { s.events = append(s.events, e) }

var news = domain.Stream{Name: "news", Type: domain.StreamFollowed, Endpoint: "/read/tags/news/posts"}

func newService(t *testing.T, repo *fakeRepo, streams fakeStreams, blogs fakeBlogs, sink domain.EventSink) *domain.ReaderService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := domain.NewReaderService(repo, streams, blogs, sink, logger, 3)
	require.NoError(t, err)
	return svc
}

func batch() []domain.Post {
	return []domain.Post{
		{Identity: "newest", BlogID: 1, PostID: 3},
		{Identity: "middle", BlogID: 1, PostID: 2},
		{Identity: "oldest", BlogID: 1, PostID: 1},
	}
}

func TestNewReaderServiceValidatesDependencies(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := domain.NewReaderService(nil, fakeStreams{}, fakeBlogs{}, nil, logger, 0)
	assert.Error(t, err)
	_, err = domain.NewReaderService(&fakeRepo{}, nil, fakeBlogs{}, nil, logger, 0)
	assert.Error(t, err)
	_, err = domain.NewReaderService(&fakeRepo{}, fakeStreams{}, nil, nil, logger, 0)
	assert.Error(t, err)

	svc, err := domain.NewReaderService(&fakeRepo{}, fakeStreams{}, fakeBlogs{}, nil, logger, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultMaxPostsPerStream, svc.MaxPostsPerStream())
}

func TestNewReaderServiceWithoutLogger(t *testing.T) {
	repo := &fakeRepo{reconciled: 2, deleted: 1, report: domain.PurgeReport{Orphaned: 1}}
	svc, err := domain.NewReaderService(repo, fakeStreams{}, fakeBlogs{}, nil, nil, 0)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.RunPurge(ctx)
	assert.NoError(t, err)
	_, err = svc.ReconcileFollowedStatus(ctx)
	assert.NoError(t, err)
	_, err = svc.DeleteBeforeGapMarker(ctx, news)
	assert.NoError(t, err)
}

func TestReadsUseRegisteredStreamDescriptor(t *testing.T) {
	repo := &fakeRepo{}
	svc := newService(t, repo, fakeStreams{news}, fakeBlogs{}, nil)
	ctx := context.Background()

	_, err := svc.PostsInStream(ctx, domain.Stream{Name: "NEWS", Type: domain.StreamFollowed}, 10)
	require.NoError(t, err)
	unregistered := domain.Stream{Name: "golang", Type: domain.StreamFollowed}
	_, err = svc.PostsInStream(ctx, unregistered, 10)
	require.NoError(t, err)

	require.Len(t, repo.listed, 2)
	assert.Equal(t, news, repo.listed[0])
	assert.Equal(t, domain.SortDateTagged, domain.Classify(&repo.listed[0]).Sort)
	assert.Equal(t, unregistered, repo.listed[1])

	resolved, err := svc.ResolveStream(ctx, domain.Stream{Name: "news", Type: domain.StreamCustomList})
	require.NoError(t, err)
	assert.Empty(t, resolved.Endpoint, "a different type is a different stream")
}

func TestIngestStoresUnderRegisteredStream(t *testing.T) {
	repo := &fakeRepo{compareResult: domain.HasNew}
	svc := newService(t, repo, fakeStreams{news}, fakeBlogs{}, nil)

	bare := domain.Stream{Name: "News", Type: domain.StreamFollowed}
	_, err := svc.Ingest(context.Background(), domain.IngestRequest{Stream: &bare, Posts: batch(), Action: domain.RequestOlder})
	require.NoError(t, err)
	require.Len(t, repo.upserted, 1)
	assert.Equal(t, news.Endpoint, repo.upserted[0].Endpoint)
	assert.True(t, repo.upserted[0].IsTopic())
}

func TestIngestNewerReportsUnmarkedGap(t *testing.T) {
	repo := &fakeRepo{compareResult: domain.HasNew, count: 10, gapRowMissing: true}
	svc := newService(t, repo, nil, fakeBlogs{}, nil)

	res, err := svc.Ingest(context.Background(), domain.IngestRequest{Stream: &news, Posts: batch(), Action: domain.RequestNewer})
	require.NoError(t, err)
	assert.False(t, res.GapMarked)
	assert.Equal(t, []string{"compare", "count", "overlap", "clear", "upsert", "mark"}, repo.calls)
}

func TestIngestNewerWithGapMarksOldestPost(t *testing.T) {
	repo := &fakeRepo{compareResult: domain.HasNew, count: 10, overlap: false}
	svc := newService(t, repo, nil, fakeBlogs{}, nil)

	res, err := svc.Ingest(context.Background(), domain.IngestRequest{Stream: &news, Posts: batch(), Action: domain.RequestNewer})
	require.NoError(t, err)

	assert.Equal(t, domain.HasNew, res.Result)
	assert.True(t, res.GapMarked)
	assert.Equal(t, []string{"compare", "count", "overlap", "clear", "upsert", "mark"}, repo.calls)
	assert.Equal(t, int64(1), repo.gapBlog)
	assert.Equal(t, int64(1), repo.gapPost)
}

func TestIngestNewerWithoutGap(t *testing.T) {
	tests := []struct {
		name      string
		repo      *fakeRepo
		stream    domain.Stream
		wantCalls []string
	}{
		{
			name:      "overlapping batch",
			repo:      &fakeRepo{count: 10, overlap: true},
			stream:    news,
			wantCalls: []string{"compare", "count", "overlap", "upsert"},
		},
		{
			name:      "empty stream",
			repo:      &fakeRepo{count: 0},
			stream:    news,
			wantCalls: []string{"compare", "count", "upsert"},
		},
		{
			name:      "search results",
			repo:      &fakeRepo{count: 10},
			stream:    domain.Stream{Name: "espresso", Type: domain.StreamSearch},
			wantCalls: []string{"compare", "upsert"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(t, tt.repo, nil, fakeBlogs{}, nil)
			res, err := svc.Ingest(context.Background(), domain.IngestRequest{Stream: &tt.stream, Posts: batch(), Action: domain.RequestNewer})
			require.NoError(t, err)
			assert.False(t, res.GapMarked)
			assert.Equal(t, tt.wantCalls, tt.repo.calls)
		})
	}
}

func TestIngestOlderThanGapDeletesBeforeMarker(t *testing.T) {
	repo := &fakeRepo{compareResult: domain.Changed, deleted: 4}
	sink := &recordingSink{}
	svc := newService(t, repo, nil, fakeBlogs{}, sink)

	res, err := svc.Ingest(context.Background(), domain.IngestRequest{Stream: &news, Posts: batch(), Action: domain.RequestOlderThanGap})
	require.NoError(t, err)

	assert.Equal(t, int64(4), res.DeletedBeforeGap)
	assert.Equal(t, []string{"compare", "delete_before_gap", "clear", "upsert"}, repo.calls)
	assert.Equal(t, []domain.Event{{Kind: domain.EventGapMarkerPurged, Stream: "news", Count: 4}}, sink.events)
}

func TestIngestOlderOnlyUpserts(t *testing.T) {
	repo := &fakeRepo{}
	svc := newService(t, repo, nil, fakeBlogs{}, nil)

	_, err := svc.Ingest(context.Background(), domain.IngestRequest{Stream: &news, Posts: batch(), Action: domain.RequestOlder})
	require.NoError(t, err)
	assert.Equal(t, []string{"compare", "upsert"}, repo.calls)
}

func TestIngestWithoutStreamOrPosts(t *testing.T) {
	repo := &fakeRepo{}
	svc := newService(t, repo, nil, fakeBlogs{}, nil)

	_, err := svc.Ingest(context.Background(), domain.IngestRequest{Posts: batch(), Action: domain.RequestNewer})
	require.NoError(t, err)
	assert.Equal(t, []string{"compare", "upsert"}, repo.calls)

	repo.calls = nil
	res, err := svc.Ingest(context.Background(), domain.IngestRequest{Stream: &news})
	require.NoError(t, err)
	assert.Equal(t, domain.Unchanged, res.Result)
	assert.Empty(t, repo.calls)
}

func TestRunPurgeEmitsEventPerStream(t *testing.T) {
	liked := domain.Stream{Name: domain.StreamLikedPosts, Type: domain.StreamDefault}
	repo := &fakeRepo{report: domain.PurgeReport{
		Orphaned:  1,
		PerStream: map[domain.Stream]int64{news: 5, liked: 2, {Name: "quiet"}: 0},
		Search:    3,
		Content:   4,
	}}
	sink := &recordingSink{}
	svc := newService(t, repo, fakeStreams{news, liked}, fakeBlogs{}, sink)

	total, err := svc.RunPurge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(11), total)
	assert.Equal(t, []domain.Stream{news, liked}, repo.purgeKnown)
	assert.Equal(t, 3, repo.purgeMax)

	sort.Slice(sink.events, func(i, j int) bool {
		if sink.events[i].Kind != sink.events[j].Kind {
			return sink.events[i].Kind < sink.events[j].Kind
		}
		return sink.events[i].Stream < sink.events[j].Stream
	})
	assert.Equal(t, []domain.Event{
		{Kind: domain.EventContentPurged, Count: 4},
		{Kind: domain.EventPostsPurged, Count: 1},
		{Kind: domain.EventPostsPurged, Stream: domain.StreamLikedPosts, Count: 2},
		{Kind: domain.EventPostsPurged, Stream: "news", Count: 5},
		{Kind: domain.EventPostsPurged, Stream: "search", Count: 3},
	}, sink.events)
}

func TestRunPurgeFailureEmitsNothing(t *testing.T) {
	repo := &fakeRepo{purgeErr: errors.New("disk full")}
	sink := &recordingSink{}
	svc := newService(t, repo, fakeStreams{news}, fakeBlogs{}, sink)

	_, err := svc.RunPurge(context.Background())
	require.Error(t, err)
	assert.Empty(t, sink.events)
}

func TestReconcileFollowedStatus(t *testing.T) {
	repo := &fakeRepo{reconciled: 6}
	sink := &recordingSink{}
	svc := newService(t, repo, nil, fakeBlogs{ids: []int64{1, 2}}, sink)

	n, err := svc.ReconcileFollowedStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.Equal(t, []int64{1, 2}, repo.followedIDs)
	assert.Equal(t, []domain.Event{{Kind: domain.EventPostsMarkedUnfollowed, Count: 6}}, sink.events)

	failing := newService(t, &fakeRepo{}, nil, fakeBlogs{err: errors.New("registry down")}, sink)
	_, err = failing.ReconcileFollowedStatus(context.Background())
	assert.Error(t, err)
}
