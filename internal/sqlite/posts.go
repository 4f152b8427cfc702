package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blackmichael/readercache/internal/domain"
)

// postColumns is the select list decoded by scanPost.
const postColumns = `p.pseudo_id, p.blog_id, p.post_id, p.feed_id, p.feed_item_id,
	p.author_name, p.author_first_name, p.author_id,
	p.title, p.excerpt, p.format, p.url, p.short_url, p.blog_url, p.blog_name,
	p.featured_image, p.featured_video, p.post_avatar, p.primary_tag, p.secondary_tag,
	p.attachments_json, p.discover_json, p.railcar_json,
	p.xpost_post_id, p.xpost_blog_id,
	p.num_replies, p.num_likes, p.score,
	p.is_liked, p.is_followed, p.is_comments_open, p.is_external, p.is_private,
	p.is_videopress, p.is_jetpack, p.has_gap_marker,
	p.date_published, p.date_liked, p.date_tagged`

const insertPostColumns = `pseudo_id, tag_name, tag_type, blog_id, post_id, feed_id, feed_item_id,
	author_name, author_first_name, author_id,
	title, excerpt, format, url, short_url, blog_url, blog_name,
	featured_image, featured_video, post_avatar, primary_tag, secondary_tag,
	attachments_json, discover_json, railcar_json,
	xpost_post_id, xpost_blog_id,
	num_replies, num_likes, score,
	is_liked, is_followed, is_comments_open, is_external, is_private,
	is_videopress, is_jetpack, has_gap_marker,
	date_published, date_liked, date_tagged`

var upsertPostSQL = `INSERT OR REPLACE INTO posts (` + insertPostColumns + `) VALUES (` + placeholders(41) + `)`

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// postArgs returns the insert arguments for p tagged into the given stream.
// The gap marker is always written cleared.
func postArgs(tagName string, tagType domain.StreamType, p *domain.Post) []any {
	return []any{
		p.Identity, tagName, int(tagType), p.BlogID, p.PostID, p.FeedID, p.FeedItemID,
		p.AuthorName, p.AuthorFirstName, p.AuthorID,
		p.Title, p.Excerpt, p.Format, p.URL, p.ShortURL, p.BlogURL, p.BlogName,
		p.FeaturedImage, p.FeaturedVideo, p.PostAvatar, p.PrimaryTag, p.SecondaryTag,
		p.AttachmentsJSON, p.DiscoverJSON, p.RailcarJSON,
		p.XPostPostID, p.XPostBlogID,
		p.NumReplies, p.NumLikes, p.Score,
		boolToInt(p.IsLiked), boolToInt(p.IsFollowed), boolToInt(p.IsCommentsOpen),
		boolToInt(p.IsExternal), boolToInt(p.IsPrivate), boolToInt(p.IsVideoPress),
		boolToInt(p.IsJetpack), 0,
		toMillis(p.DatePublished), toMillis(p.DateLiked), toMillis(p.DateTagged),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(sc rowScanner, withContent bool) (domain.Post, error) {
	var (
		p                        domain.Post
		published, liked, tagged int64
	)
	dest := []any{
		&p.Identity, &p.BlogID, &p.PostID, &p.FeedID, &p.FeedItemID,
		&p.AuthorName, &p.AuthorFirstName, &p.AuthorID,
		&p.Title, &p.Excerpt, &p.Format, &p.URL, &p.ShortURL, &p.BlogURL, &p.BlogName,
		&p.FeaturedImage, &p.FeaturedVideo, &p.PostAvatar, &p.PrimaryTag, &p.SecondaryTag,
		&p.AttachmentsJSON, &p.DiscoverJSON, &p.RailcarJSON,
		&p.XPostPostID, &p.XPostBlogID,
		&p.NumReplies, &p.NumLikes, &p.Score,
		&p.IsLiked, &p.IsFollowed, &p.IsCommentsOpen, &p.IsExternal, &p.IsPrivate,
		&p.IsVideoPress, &p.IsJetpack, &p.HasGapMarker,
		&published, &liked, &tagged,
	}
	if withContent {
		dest = append(dest, &p.Content)
	}
	if err := sc.Scan(dest...); err != nil {
		return domain.Post{}, err
	}
	p.DatePublished = fromMillis(published)
	p.DateLiked = fromMillis(liked)
	p.DateTagged = fromMillis(tagged)
	return p, nil
}

// scanPosts decodes rows until the first row that fails to decode. The
// posts decoded before it are returned without an error. Iteration
// failures are returned as errors.
func (r *Repository) scanPosts(rows *sql.Rows, withContent bool) ([]domain.Post, error) {
	var posts []domain.Post
	for rows.Next() {
		p, err := scanPost(rows, withContent)
		if err != nil {
			r.logger.Warn("stopped decoding posts at malformed row", "decoded", len(posts), "error", err)
			return posts, nil
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

func (r *Repository) queryPosts(ctx context.Context, query string, args ...any) ([]domain.Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()
	return r.scanPosts(rows, false)
}

func ownerColumns(kind domain.OwnerKind) (string, string) {
	if kind == domain.OwnerFeed {
		return "feed_id", "feed_item_id"
	}
	return "blog_id", "post_id"
}

func streamFilter(inc domain.Inclusion) string {
	switch inc {
	case domain.IncludeLikedOnly:
		return " AND p.is_liked != 0"
	case domain.IncludeFollowedOnly:
		return " AND p.is_followed != 0"
	default:
		return ""
	}
}

// sqlLimit maps max <= 0 to SQLite's "no limit".
func sqlLimit(max int) int {
	if max <= 0 {
		return -1
	}
	return max
}

// UpsertBatch inserts or replaces every post in posts, tagged with stream,
// in a single transaction. Bodies are written to the content table.
func (r *Repository) UpsertBatch(ctx context.Context, stream *domain.Stream, posts []domain.Post) error {
	if len(posts) == 0 {
		return nil
	}

	var (
		tagName string
		tagType domain.StreamType
	)
	if stream != nil {
		tagName, tagType = stream.Name, stream.Type
	}

	return r.withTx(ctx, "UpsertBatch", func(ctx context.Context, tx *sql.Tx) error {
		postStmt, err := tx.PrepareContext(ctx, upsertPostSQL)
		if err != nil {
			return fmt.Errorf("prepare post upsert: %w", err)
		}
		defer postStmt.Close()

		contentStmt, err := tx.PrepareContext(ctx, upsertContentSQL)
		if err != nil {
			return fmt.Errorf("prepare content upsert: %w", err)
		}
		defer contentStmt.Close()

		for i := range posts {
			p := &posts[i]
			if strings.TrimSpace(p.Identity) == "" {
				return fmt.Errorf("post %d: %w: empty identity", i, domain.ErrInvalidPost)
			}

			if _, err := postStmt.ExecContext(ctx, postArgs(tagName, tagType, p)...); err != nil {
				if isCheckViolation(err) {
					return fmt.Errorf("post %s: %w: %v", p.Identity, domain.ErrInvalidPost, err)
				}
				return fmt.Errorf("upsert post %s: %w", p.Identity, err)
			}

			if p.HasContent() {
				if _, err := contentStmt.ExecContext(ctx, p.Identity, p.BlogID, p.PostID, p.Content); err != nil {
					return fmt.Errorf("upsert content %s: %w", p.Identity, err)
				}
			}
		}
		return nil
	}, trace.WithAttributes(
		attribute.String("stream.name", tagName),
		attribute.Int("posts", len(posts)),
	))
}

// FindPost returns the post addressed by owner and local id, or nil when
// it is not stored or either id is zero.
func (r *Repository) FindPost(ctx context.Context, kind domain.OwnerKind, ownerID, localID int64, includeContent bool) (*domain.Post, error) {
	if ownerID == 0 || localID == 0 {
		return nil, nil
	}
	ownerCol, localCol := ownerColumns(kind)

	query := `SELECT ` + postColumns
	if includeContent {
		query += `, COALESCE(c.content, '') FROM posts p LEFT JOIN post_content c ON c.pseudo_id = p.pseudo_id`
	} else {
		query += ` FROM posts p`
	}
	query += ` WHERE p.` + ownerCol + ` = ? AND p.` + localCol + ` = ? LIMIT 1`

	p, err := scanPost(r.db.QueryRowContext(ctx, query, ownerID, localID), includeContent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find %s post %d/%d: %w", kind, ownerID, localID, err)
	}
	return &p, nil
}

// ExistsPost reports whether any stream holds the blog post.
func (r *Repository) ExistsPost(ctx context.Context, blogID, postID int64) (bool, error) {
	return r.existsOwned(ctx, domain.OwnerBlog, blogID, postID)
}

func (r *Repository) existsOwned(ctx context.Context, kind domain.OwnerKind, ownerID, localID int64) (bool, error) {
	if ownerID == 0 || localID == 0 {
		return false, nil
	}
	ownerCol, localCol := ownerColumns(kind)

	var found int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM posts WHERE `+ownerCol+` = ? AND `+localCol+` = ? LIMIT 1`,
		ownerID, localID,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check %s post %d/%d: %w", kind, ownerID, localID, err)
	}
	return true, nil
}

// CompareIncomingBatch classifies posts against their stored copies. The
// first post without a stored copy makes the whole batch HasNew.
func (r *Repository) CompareIncomingBatch(ctx context.Context, posts []domain.Post) (domain.UpdateResult, error) {
	changed := false
	for i := range posts {
		kind, ownerID, localID := posts[i].Owner()
		existing, err := r.FindPost(ctx, kind, ownerID, localID, false)
		if err != nil {
			return domain.Unchanged, err
		}
		if existing == nil {
			return domain.HasNew, nil
		}
		if !changed && !posts[i].IsSamePost(existing) {
			changed = true
		}
	}
	if changed {
		return domain.Changed, nil
	}
	return domain.Unchanged, nil
}

// HasOverlap reports whether any of posts is already stored.
func (r *Repository) HasOverlap(ctx context.Context, posts []domain.Post) (bool, error) {
	for i := range posts {
		kind, ownerID, localID := posts[i].Owner()
		found, err := r.existsOwned(ctx, kind, ownerID, localID)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// PostsInStream returns up to max visible posts of stream in display order.
func (r *Repository) PostsInStream(ctx context.Context, stream domain.Stream, max int) ([]domain.Post, error) {
	order := domain.Classify(&stream)
	query := `SELECT ` + postColumns + ` FROM posts p
		WHERE p.tag_name = ? AND p.tag_type = ?` + streamFilter(order.Include) + `
		ORDER BY p.` + order.Sort.String() + ` DESC, p.pseudo_id
		LIMIT ?`
	return r.queryPosts(ctx, query, stream.Name, int(stream.Type), sqlLimit(max))
}

// PostRefsInStream is PostsInStream returning only blog and post ids.
func (r *Repository) PostRefsInStream(ctx context.Context, stream domain.Stream, max int) ([]domain.PostRef, error) {
	order := domain.Classify(&stream)
	query := `SELECT p.blog_id, p.post_id FROM posts p
		WHERE p.tag_name = ? AND p.tag_type = ?` + streamFilter(order.Include) + `
		ORDER BY p.` + order.Sort.String() + ` DESC, p.pseudo_id
		LIMIT ?`
	return r.queryRefs(ctx, query, stream.Name, int(stream.Type), sqlLimit(max))
}

// PostsInBlog returns the blog's own view, newest first.
func (r *Repository) PostsInBlog(ctx context.Context, blogID int64, max int) ([]domain.Post, error) {
	if blogID == 0 {
		return nil, nil
	}
	return r.queryPosts(ctx, `SELECT `+postColumns+` FROM posts p
		WHERE p.blog_id = ? AND p.tag_name = ''
		ORDER BY p.date_published DESC, p.pseudo_id
		LIMIT ?`, blogID, sqlLimit(max))
}

// PostsInFeed returns the feed's own view, newest first.
func (r *Repository) PostsInFeed(ctx context.Context, feedID int64, max int) ([]domain.Post, error) {
	if feedID == 0 {
		return nil, nil
	}
	return r.queryPosts(ctx, `SELECT `+postColumns+` FROM posts p
		WHERE p.feed_id = ? AND p.tag_name = ''
		ORDER BY p.date_published DESC, p.pseudo_id
		LIMIT ?`, feedID, sqlLimit(max))
}

// PostRefsInBlog is PostsInBlog returning only ids.
func (r *Repository) PostRefsInBlog(ctx context.Context, blogID int64, max int) ([]domain.PostRef, error) {
	if blogID == 0 {
		return nil, nil
	}
	return r.queryRefs(ctx, `SELECT p.blog_id, p.post_id FROM posts p
		WHERE p.blog_id = ? AND p.tag_name = ''
		ORDER BY p.date_published DESC, p.pseudo_id
		LIMIT ?`, blogID, sqlLimit(max))
}

func (r *Repository) queryRefs(ctx context.Context, query string, args ...any) ([]domain.PostRef, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query post refs: %w", err)
	}
	defer rows.Close()

	var refs []domain.PostRef
	for rows.Next() {
		var ref domain.PostRef
		if err := rows.Scan(&ref.OwnerID, &ref.LocalID); err != nil {
			r.logger.Warn("stopped decoding post refs at malformed row", "decoded", len(refs), "error", err)
			return refs, nil
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate post refs: %w", err)
	}
	return refs, nil
}

// CountInStream returns the number of rows stored for stream, visible or not.
func (r *Repository) CountInStream(ctx context.Context, stream domain.Stream) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM posts WHERE tag_name = ? AND tag_type = ?`, stream.Name, int(stream.Type))
}

// CountInBlog returns the number of rows in the blog's own view.
func (r *Repository) CountInBlog(ctx context.Context, blogID int64) (int, error) {
	if blogID == 0 {
		return 0, nil
	}
	return r.count(ctx, `SELECT COUNT(*) FROM posts WHERE blog_id = ? AND tag_name = ''`, blogID)
}

// CountInFeed returns the number of rows in the feed's own view.
func (r *Repository) CountInFeed(ctx context.Context, feedID int64) (int, error) {
	if feedID == 0 {
		return 0, nil
	}
	return r.count(ctx, `SELECT COUNT(*) FROM posts WHERE feed_id = ? AND tag_name = ''`, feedID)
}

func (r *Repository) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

// OldestSortValueInStream returns the smallest sort value stored for
// stream. Dates are unix milliseconds. ok is false for an empty stream.
func (r *Repository) OldestSortValueInStream(ctx context.Context, stream domain.Stream) (value float64, ok bool, err error) {
	col := domain.Classify(&stream).Sort.String()
	err = r.db.QueryRowContext(ctx,
		`SELECT `+col+` FROM posts WHERE tag_name = ? AND tag_type = ? ORDER BY `+col+` LIMIT 1`,
		stream.Name, int(stream.Type),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("oldest %s in stream: %w", col, err)
	}
	return value, true, nil
}

// OldestPublishedInBlog returns the publish date of the oldest post in the
// blog's own view, or the zero time.
func (r *Repository) OldestPublishedInBlog(ctx context.Context, blogID int64) (time.Time, error) {
	return r.oldestPublished(ctx, "blog_id", blogID)
}

// OldestPublishedInFeed returns the publish date of the oldest post in the
// feed's own view, or the zero time.
func (r *Repository) OldestPublishedInFeed(ctx context.Context, feedID int64) (time.Time, error) {
	return r.oldestPublished(ctx, "feed_id", feedID)
}

func (r *Repository) oldestPublished(ctx context.Context, ownerCol string, ownerID int64) (time.Time, error) {
	if ownerID == 0 {
		return time.Time{}, nil
	}
	ms, err := scalar[int64](ctx, r.db,
		`SELECT date_published FROM posts WHERE `+ownerCol+` = ? AND tag_name = '' ORDER BY date_published LIMIT 1`,
		ownerID)
	if err != nil {
		return time.Time{}, fmt.Errorf("oldest published by %s: %w", ownerCol, err)
	}
	return fromMillis(ms), nil
}

// PostTitle returns the stored title of a blog post, or "".
func (r *Repository) PostTitle(ctx context.Context, blogID, postID int64) (string, error) {
	return postField[string](ctx, r, "title", blogID, postID)
}

// NumReplies returns the server-reported comment count of a blog post.
func (r *Repository) NumReplies(ctx context.Context, blogID, postID int64) (int, error) {
	return postField[int](ctx, r, "num_replies", blogID, postID)
}

// NumLikes returns the server-reported like count of a blog post.
func (r *Repository) NumLikes(ctx context.Context, blogID, postID int64) (int, error) {
	return postField[int](ctx, r, "num_likes", blogID, postID)
}

// IsLiked reports whether the current user likes a blog post.
func (r *Repository) IsLiked(ctx context.Context, blogID, postID int64) (bool, error) {
	return postField[bool](ctx, r, "is_liked", blogID, postID)
}

// IsFollowed reports whether the current user follows the blog of a post.
func (r *Repository) IsFollowed(ctx context.Context, blogID, postID int64) (bool, error) {
	return postField[bool](ctx, r, "is_followed", blogID, postID)
}

// postField reads one column of any stored copy of a blog post. Zero ids
// and missing posts yield the zero value.
func postField[T any](ctx context.Context, r *Repository, col string, blogID, postID int64) (T, error) {
	var zero T
	if blogID == 0 || postID == 0 {
		return zero, nil
	}
	v, err := scalar[T](ctx, r.db, `SELECT `+col+` FROM posts WHERE blog_id = ? AND post_id = ? LIMIT 1`, blogID, postID)
	if err != nil {
		return zero, fmt.Errorf("read %s of post %d/%d: %w", col, blogID, postID, err)
	}
	return v, nil
}

// scalar reads a single value, returning the zero value when no row matches.
func scalar[T any](ctx context.Context, db *sql.DB, query string, args ...any) (T, error) {
	var v T
	err := db.QueryRowContext(ctx, query, args...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		var zero T
		return zero, nil
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// DeletePostsInStream removes every row of stream.
func (r *Repository) DeletePostsInStream(ctx context.Context, stream domain.Stream) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE tag_name = ? AND tag_type = ?`, stream.Name, int(stream.Type))
	if err != nil {
		return 0, fmt.Errorf("delete posts in stream %s: %w", stream, err)
	}
	return res.RowsAffected()
}

// DeletePostsInBlog removes every row of the blog across all streams.
func (r *Repository) DeletePostsInBlog(ctx context.Context, blogID int64) (int64, error) {
	if blogID == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE blog_id = ?`, blogID)
	if err != nil {
		return 0, fmt.Errorf("delete posts in blog %d: %w", blogID, err)
	}
	return res.RowsAffected()
}
