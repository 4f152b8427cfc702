package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/blackmichael/readercache/internal/domain"
)

var (
	_ domain.StreamRegistry = (*Repository)(nil)
	_ domain.BlogRegistry   = (*Repository)(nil)
)

// Blog is an entry in the followed-blog registry.
type Blog struct {
	BlogID     int64
	FeedID     int64
	Name       string
	URL        string
	IsFollowed bool
}

// SaveStream adds stream to the registry or updates its endpoint.
func (r *Repository) SaveStream(ctx context.Context, stream domain.Stream) error {
	if strings.TrimSpace(stream.Name) == "" {
		return fmt.Errorf("stream name is required")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO streams (name, type, endpoint) VALUES (?, ?, ?)`,
		stream.Name, int(stream.Type), stream.Endpoint,
	)
	if err != nil {
		return fmt.Errorf("save stream %s: %w", stream, err)
	}
	return nil
}

// RemoveStream drops stream from the registry. Its posts stay until the
// next purge.
func (r *Repository) RemoveStream(ctx context.Context, stream domain.Stream) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM streams WHERE name = ? AND type = ?`, stream.Name, int(stream.Type))
	if err != nil {
		return fmt.Errorf("remove stream %s: %w", stream, err)
	}
	return nil
}

// Streams returns every registered stream ordered by type and name.
func (r *Repository) Streams(ctx context.Context) ([]domain.Stream, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, type, endpoint FROM streams ORDER BY type, name`)
	if err != nil {
		return nil, fmt.Errorf("query streams: %w", err)
	}
	defer rows.Close()

	var streams []domain.Stream
	for rows.Next() {
		var (
			s       domain.Stream
			tagType int
		)
		if err := rows.Scan(&s.Name, &tagType, &s.Endpoint); err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		s.Type = domain.StreamType(tagType)
		streams = append(streams, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate streams: %w", err)
	}
	return streams, nil
}

// LookupStream returns the registered stream matching name and typ, or
// nil when it is not registered.
func (r *Repository) LookupStream(ctx context.Context, name string, typ domain.StreamType) (*domain.Stream, error) {
	var (
		s       domain.Stream
		tagType int
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT name, type, endpoint FROM streams WHERE name = ? AND type = ?`, name, int(typ),
	).Scan(&s.Name, &tagType, &s.Endpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up stream %s:%s: %w", typ, name, err)
	}
	s.Type = domain.StreamType(tagType)
	return &s, nil
}

// SaveBlog adds or replaces a blog registry entry.
func (r *Repository) SaveBlog(ctx context.Context, blog Blog) error {
	if blog.BlogID == 0 && blog.FeedID == 0 {
		return fmt.Errorf("blog or feed id is required")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO blogs (blog_id, feed_id, name, url, is_followed) VALUES (?, ?, ?, ?, ?)`,
		blog.BlogID, blog.FeedID, blog.Name, blog.URL, boolToInt(blog.IsFollowed),
	)
	if err != nil {
		return fmt.Errorf("save blog %d/%d: %w", blog.BlogID, blog.FeedID, err)
	}
	return nil
}

// FollowedBlogIDs returns the distinct blog ids of followed entries. A
// followed feed that has no blog contributes 0, which keeps the rows of
// feeds followed through the reconcile sweep.
func (r *Repository) FollowedBlogIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT blog_id FROM blogs WHERE is_followed != 0 ORDER BY blog_id`)
	if err != nil {
		return nil, fmt.Errorf("query followed blogs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan blog id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate followed blogs: %w", err)
	}
	return ids, nil
}
