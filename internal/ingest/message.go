package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/blackmichael/readercache/internal/domain"
)

// batchMessage is one fetched page of posts pushed by the fetch layer.
type batchMessage struct {
	Action string         `json:"action"`
	Stream *streamMessage `json:"stream,omitempty"`
	Posts  []postMessage  `json:"posts"`
}

type streamMessage struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Endpoint string `json:"endpoint,omitempty"`
}

type postMessage struct {
	Identity   string `json:"identity"`
	BlogID     int64  `json:"blog_id"`
	PostID     int64  `json:"post_id"`
	FeedID     int64  `json:"feed_id"`
	FeedItemID int64  `json:"feed_item_id"`

	AuthorName      string `json:"author_name"`
	AuthorFirstName string `json:"author_first_name"`
	AuthorID        int64  `json:"author_id"`

	Title         string `json:"title"`
	Excerpt       string `json:"excerpt"`
	Content       string `json:"content"`
	Format        string `json:"format"`
	URL           string `json:"url"`
	ShortURL      string `json:"short_url"`
	BlogURL       string `json:"blog_url"`
	BlogName      string `json:"blog_name"`
	FeaturedImage string `json:"featured_image"`
	FeaturedVideo string `json:"featured_video"`
	PostAvatar    string `json:"post_avatar"`
	PrimaryTag    string `json:"primary_tag"`
	SecondaryTag  string `json:"secondary_tag"`

	Attachments json.RawMessage `json:"attachments,omitempty"`
	Discover    json.RawMessage `json:"discover,omitempty"`
	Railcar     json.RawMessage `json:"railcar,omitempty"`

	XPostPostID int64 `json:"xpost_post_id"`
	XPostBlogID int64 `json:"xpost_blog_id"`

	NumReplies int     `json:"num_replies"`
	NumLikes   int     `json:"num_likes"`
	Score      float64 `json:"score"`

	IsLiked        bool `json:"is_liked"`
	IsFollowed     bool `json:"is_followed"`
	IsCommentsOpen bool `json:"is_comments_open"`
	IsExternal     bool `json:"is_external"`
	IsPrivate      bool `json:"is_private"`
	IsVideoPress   bool `json:"is_videopress"`
	IsJetpack      bool `json:"is_jetpack"`

	DatePublished time.Time `json:"date_published"`
	DateLiked     time.Time `json:"date_liked"`
	DateTagged    time.Time `json:"date_tagged"`
}

func (m *postMessage) toPost() domain.Post {
	return domain.Post{
		Identity:        m.Identity,
		BlogID:          m.BlogID,
		PostID:          m.PostID,
		FeedID:          m.FeedID,
		FeedItemID:      m.FeedItemID,
		AuthorName:      m.AuthorName,
		AuthorFirstName: m.AuthorFirstName,
		AuthorID:        m.AuthorID,
		Title:           m.Title,
		Excerpt:         m.Excerpt,
		Format:          m.Format,
		URL:             m.URL,
		ShortURL:        m.ShortURL,
		BlogURL:         m.BlogURL,
		BlogName:        m.BlogName,
		FeaturedImage:   m.FeaturedImage,
		FeaturedVideo:   m.FeaturedVideo,
		PostAvatar:      m.PostAvatar,
		PrimaryTag:      m.PrimaryTag,
		SecondaryTag:    m.SecondaryTag,
		AttachmentsJSON: rawString(m.Attachments),
		DiscoverJSON:    rawString(m.Discover),
		RailcarJSON:     rawString(m.Railcar),
		XPostPostID:     m.XPostPostID,
		XPostBlogID:     m.XPostBlogID,
		NumReplies:      m.NumReplies,
		NumLikes:        m.NumLikes,
		Score:           m.Score,
		IsLiked:         m.IsLiked,
		IsFollowed:      m.IsFollowed,
		IsCommentsOpen:  m.IsCommentsOpen,
		IsExternal:      m.IsExternal,
		IsPrivate:       m.IsPrivate,
		IsVideoPress:    m.IsVideoPress,
		IsJetpack:       m.IsJetpack,
		DatePublished:   m.DatePublished,
		DateLiked:       m.DateLiked,
		DateTagged:      m.DateTagged,
		Content:         m.Content,
	}
}

// rawString keeps pass-through blobs verbatim. JSON null means absent.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	return string(raw)
}

func parseBatch(data []byte) (domain.IngestRequest, error) {
	var msg batchMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.IngestRequest{}, fmt.Errorf("unmarshal batch: %w", err)
	}

	action, err := domain.ParseUpdateAction(msg.Action)
	if err != nil {
		return domain.IngestRequest{}, err
	}

	req := domain.IngestRequest{Action: action}
	if msg.Stream != nil {
		if strings.TrimSpace(msg.Stream.Name) == "" {
			return domain.IngestRequest{}, fmt.Errorf("stream name is required")
		}
		streamType, err := domain.ParseStreamType(msg.Stream.Type)
		if err != nil {
			return domain.IngestRequest{}, err
		}
		req.Stream = &domain.Stream{
			Name:     msg.Stream.Name,
			Type:     streamType,
			Endpoint: msg.Stream.Endpoint,
		}
	}

	req.Posts = make([]domain.Post, 0, len(msg.Posts))
	for i := range msg.Posts {
		if msg.Posts[i].Identity == "" {
			return domain.IngestRequest{}, fmt.Errorf("post %d: %w: missing identity", i, domain.ErrInvalidPost)
		}
		req.Posts = append(req.Posts, msg.Posts[i].toPost())
	}

	return req, nil
}
