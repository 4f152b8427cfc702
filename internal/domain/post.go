package domain

import (
	"errors"
	"time"
)

var (
	// ErrInvalidPost is returned when a post cannot be stored because it
	// lacks an identity.
	ErrInvalidPost = errors.New("invalid post")

	// ErrGapMarkerConflict is returned when a stream already has a gap
	// marker and another row is marked without clearing the first.
	ErrGapMarkerConflict = errors.New("stream already has a gap marker")
)

// Post is one cached reader post. The same logical post is stored once per
// stream it appears in; each copy is independent.
type Post struct {
	// Identity is the stable opaque id of the post. It exists even for
	// feed items that have no blog/post id yet.
	Identity string

	BlogID     int64
	PostID     int64
	FeedID     int64
	FeedItemID int64

	AuthorName      string
	AuthorFirstName string
	AuthorID        int64

	Title         string
	Excerpt       string
	Format        string
	URL           string
	ShortURL      string
	BlogURL       string
	BlogName      string
	FeaturedImage string
	FeaturedVideo string
	PostAvatar    string
	PrimaryTag    string
	SecondaryTag  string

	// Raw JSON blobs passed through from the server response.
	AttachmentsJSON string
	DiscoverJSON    string
	RailcarJSON     string

	XPostPostID int64
	XPostBlogID int64

	NumReplies int
	NumLikes   int

	// Score is only meaningful for search results.
	Score float64

	IsLiked        bool
	IsFollowed     bool
	IsCommentsOpen bool
	IsExternal     bool
	IsPrivate      bool
	IsVideoPress   bool
	IsJetpack      bool
	HasGapMarker   bool

	// Zero means "not populated".
	DatePublished time.Time
	DateLiked     time.Time
	DateTagged    time.Time

	// Content is the full body. It lives in the content store and is only
	// populated on reads that ask for it.
	Content string
}

// HasContent reports whether the post carries a body to persist.
func (p *Post) HasContent() bool {
	return p.Content != ""
}

// Owner returns the owner kind and ids used to address the post: the blog
// when it has one, otherwise the feed.
func (p *Post) Owner() (OwnerKind, int64, int64) {
	if p.BlogID != 0 {
		return OwnerBlog, p.BlogID, p.PostID
	}
	return OwnerFeed, p.FeedID, p.FeedItemID
}

// IsSamePost reports whether other carries the same user-visible state as
// p. Used to decide whether a freshly fetched batch changed anything.
// Dates compare at millisecond precision, the precision they are stored at.
func (p *Post) IsSamePost(other *Post) bool {
	if other == nil {
		return false
	}
	return p.BlogID == other.BlogID &&
		p.PostID == other.PostID &&
		p.FeedID == other.FeedID &&
		p.FeedItemID == other.FeedItemID &&
		p.NumReplies == other.NumReplies &&
		p.NumLikes == other.NumLikes &&
		p.IsLiked == other.IsLiked &&
		p.IsFollowed == other.IsFollowed &&
		p.IsCommentsOpen == other.IsCommentsOpen &&
		p.Title == other.Title &&
		p.Excerpt == other.Excerpt &&
		p.FeaturedImage == other.FeaturedImage &&
		p.FeaturedVideo == other.FeaturedVideo &&
		p.DatePublished.UnixMilli() == other.DatePublished.UnixMilli()
}

// OwnerKind says whether an owner id is a blog id or a feed id.
type OwnerKind int

const (
	OwnerBlog OwnerKind = iota
	OwnerFeed
)

func (k OwnerKind) String() string {
	if k == OwnerFeed {
		return "feed"
	}
	return "blog"
}

// PostRef addresses a post by owner and local id.
type PostRef struct {
	OwnerID int64
	LocalID int64
}

// UpdateResult classifies an incoming batch against what is already stored.
type UpdateResult int

const (
	Unchanged UpdateResult = iota
	Changed
	HasNew
)

func (r UpdateResult) String() string {
	switch r {
	case Changed:
		return "changed"
	case HasNew:
		return "has_new"
	default:
		return "unchanged"
	}
}
