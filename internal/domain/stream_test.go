package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		stream *Stream
		want   Ordering
	}{
		{
			name: "blog or feed view",
			want: Ordering{Sort: SortDatePublished, Include: IncludeAll},
		},
		{
			name:   "liked posts",
			stream: &Stream{Name: StreamLikedPosts, Type: StreamDefault},
			want:   Ordering{Sort: SortDateLiked, Include: IncludeLikedOnly},
		},
		{
			name:   "liked posts name is case insensitive",
			stream: &Stream{Name: "posts i like", Type: StreamDefault},
			want:   Ordering{Sort: SortDateLiked, Include: IncludeLikedOnly},
		},
		{
			name:   "followed sites",
			stream: &Stream{Name: StreamFollowedSites, Type: StreamDefault},
			want:   Ordering{Sort: SortDatePublished, Include: IncludeFollowedOnly},
		},
		{
			name:   "liked posts name on a non-default stream is a plain stream",
			stream: &Stream{Name: StreamLikedPosts, Type: StreamFollowed},
			want:   Ordering{Sort: SortDatePublished, Include: IncludeAll},
		},
		{
			name:   "search",
			stream: &Stream{Name: "espresso", Type: StreamSearch},
			want:   Ordering{Sort: SortScore, Include: IncludeAll},
		},
		{
			name:   "tag topic",
			stream: &Stream{Name: "news", Type: StreamFollowed, Endpoint: "https://public-api.wordpress.com/rest/v1.2/read/tags/news/posts"},
			want:   Ordering{Sort: SortDateTagged, Include: IncludeAll},
		},
		{
			name:   "recommended without a tag endpoint",
			stream: &Stream{Name: "discover", Type: StreamRecommended, Endpoint: "https://public-api.wordpress.com/rest/v1.2/read/sites/53424024/posts"},
			want:   Ordering{Sort: SortDatePublished, Include: IncludeAll},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.stream))
		})
	}
}

func TestSortFieldColumns(t *testing.T) {
	assert.Equal(t, "date_published", SortDatePublished.String())
	assert.Equal(t, "date_liked", SortDateLiked.String())
	assert.Equal(t, "date_tagged", SortDateTagged.String())
	assert.Equal(t, "score", SortScore.String())
}

func TestParseStreamType(t *testing.T) {
	for _, st := range []StreamType{StreamFollowed, StreamDefault, StreamRecommended, StreamCustomList, StreamSearch} {
		got, err := ParseStreamType(st.String())
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}

	got, err := ParseStreamType(" Search ")
	require.NoError(t, err)
	assert.Equal(t, StreamSearch, got)

	_, err = ParseStreamType("bogus")
	assert.Error(t, err)
}

func TestParseUpdateAction(t *testing.T) {
	for _, a := range []UpdateAction{RequestNewer, RequestOlder, RequestOlderThanGap} {
		got, err := ParseUpdateAction(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}

	_, err := ParseUpdateAction("sideways")
	assert.Error(t, err)
}
