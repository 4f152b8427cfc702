package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/readercache/internal/domain"
)

func TestParseBatch(t *testing.T) {
	data := []byte(`{
		"action": "older_than_gap",
		"stream": {"name": "news", "type": "followed", "endpoint": "/read/tags/news/posts"},
		"posts": [{
			"identity": "p1",
			"blog_id": 10,
			"post_id": 100,
			"title": "Hello",
			"content": "<p>body</p>",
			"num_likes": 3,
			"is_liked": true,
			"attachments": {"1": {"url": "a.jpg"}},
			"railcar": null,
			"date_published": "2026-03-01T12:00:00Z"
		}]
	}`)

	req, err := parseBatch(data)
	require.NoError(t, err)

	assert.Equal(t, domain.RequestOlderThanGap, req.Action)
	require.NotNil(t, req.Stream)
	assert.Equal(t, domain.Stream{Name: "news", Type: domain.StreamFollowed, Endpoint: "/read/tags/news/posts"}, *req.Stream)

	require.Len(t, req.Posts, 1)
	p := req.Posts[0]
	assert.Equal(t, "p1", p.Identity)
	assert.Equal(t, int64(10), p.BlogID)
	assert.Equal(t, int64(100), p.PostID)
	assert.Equal(t, "Hello", p.Title)
	assert.Equal(t, "<p>body</p>", p.Content)
	assert.Equal(t, 3, p.NumLikes)
	assert.True(t, p.IsLiked)
	assert.JSONEq(t, `{"1": {"url": "a.jpg"}}`, p.AttachmentsJSON)
	assert.Empty(t, p.RailcarJSON)
	assert.True(t, time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC).Equal(p.DatePublished))
	assert.True(t, p.DateLiked.IsZero())
}

func TestParseBatchWithoutStream(t *testing.T) {
	req, err := parseBatch([]byte(`{"posts": [{"identity": "f1", "feed_id": 5, "feed_item_id": 50}]}`))
	require.NoError(t, err)

	assert.Nil(t, req.Stream)
	assert.Equal(t, domain.RequestNewer, req.Action)
	require.Len(t, req.Posts, 1)
	assert.Equal(t, int64(5), req.Posts[0].FeedID)
}

func TestParseBatchRejectsInvalidMessages(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"posts": [`},
		{"unknown action", `{"action": "sideways", "posts": []}`},
		{"unknown stream type", `{"stream": {"name": "news", "type": "weird"}, "posts": []}`},
		{"empty stream name", `{"stream": {"name": " ", "type": "followed"}, "posts": []}`},
		{"post without identity", `{"posts": [{"blog_id": 1, "post_id": 2}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseBatch([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestParseBatchMissingIdentityIsInvalidPost(t *testing.T) {
	_, err := parseBatch([]byte(`{"posts": [{"blog_id": 1, "post_id": 2}]}`))
	assert.ErrorIs(t, err, domain.ErrInvalidPost)
}
