package domain

import (
	"fmt"
	"strings"
)

// Names of the two pseudo-streams whose rows are filtered by user state.
const (
	StreamFollowedSites = "Followed Sites"
	StreamLikedPosts    = "Posts I Like"
)

// StreamType distinguishes the kinds of named streams. The numeric values
// are persisted.
type StreamType int

const (
	StreamFollowed StreamType = iota
	StreamDefault
	StreamRecommended
	StreamCustomList
	StreamSearch
)

func (t StreamType) String() string {
	switch t {
	case StreamFollowed:
		return "followed"
	case StreamDefault:
		return "default"
	case StreamRecommended:
		return "recommended"
	case StreamCustomList:
		return "custom_list"
	case StreamSearch:
		return "search"
	default:
		return fmt.Sprintf("stream_type(%d)", int(t))
	}
}

// ParseStreamType is the inverse of StreamType.String.
func ParseStreamType(s string) (StreamType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "followed", "":
		return StreamFollowed, nil
	case "default":
		return StreamDefault, nil
	case "recommended":
		return StreamRecommended, nil
	case "custom_list":
		return StreamCustomList, nil
	case "search":
		return StreamSearch, nil
	}
	return 0, fmt.Errorf("unknown stream type %q", s)
}

// Stream describes a named, typed view over cached posts.
type Stream struct {
	Name string
	Type StreamType

	// Endpoint is the server path the stream is fetched from. Topic
	// streams are recognised by it.
	Endpoint string
}

// IsLikedPosts reports whether s is the "Posts I Like" pseudo-stream.
func (s Stream) IsLikedPosts() bool {
	return s.Type == StreamDefault && strings.EqualFold(s.Name, StreamLikedPosts)
}

// IsFollowedSites reports whether s is the "Followed Sites" pseudo-stream.
func (s Stream) IsFollowedSites() bool {
	return s.Type == StreamDefault && strings.EqualFold(s.Name, StreamFollowedSites)
}

// IsSearch reports whether s holds search results.
func (s Stream) IsSearch() bool {
	return s.Type == StreamSearch
}

// IsTopic reports whether s is a tag topic stream.
func (s Stream) IsTopic() bool {
	return strings.Contains(strings.ToLower(s.Endpoint), "/read/tags/")
}

func (s Stream) String() string {
	return fmt.Sprintf("%s:%s", s.Type, s.Name)
}

// SortField is the post attribute a stream is ordered by, newest first.
type SortField int

const (
	SortDatePublished SortField = iota
	SortDateLiked
	SortDateTagged
	SortScore
)

func (f SortField) String() string {
	switch f {
	case SortDateLiked:
		return "date_liked"
	case SortDateTagged:
		return "date_tagged"
	case SortScore:
		return "score"
	default:
		return "date_published"
	}
}

// Inclusion restricts which stored rows of a stream are visible on reads.
// Rows that fail it stay stored until the purge engine reclaims them.
type Inclusion int

const (
	IncludeAll Inclusion = iota
	IncludeLikedOnly
	IncludeFollowedOnly
)

// Ordering is the result of classifying a stream.
type Ordering struct {
	Sort    SortField
	Include Inclusion
}

// Classify maps a stream to its sort field and read filter. A nil stream
// means a blog or feed scoped view.
//
//	liked posts     date liked, liked rows only
//	followed sites  date published, followed rows only
//	search results  score
//	tag topics      date tagged
//	everything else date published
func Classify(s *Stream) Ordering {
	switch {
	case s == nil:
		return Ordering{Sort: SortDatePublished}
	case s.IsLikedPosts():
		return Ordering{Sort: SortDateLiked, Include: IncludeLikedOnly}
	case s.IsFollowedSites():
		return Ordering{Sort: SortDatePublished, Include: IncludeFollowedOnly}
	case s.IsSearch():
		return Ordering{Sort: SortScore}
	case s.IsTopic():
		return Ordering{Sort: SortDateTagged}
	default:
		return Ordering{Sort: SortDatePublished}
	}
}
