package sqlite

import (
	"context"
	"fmt"
)

const upsertContentSQL = `INSERT OR REPLACE INTO post_content (pseudo_id, blog_id, post_id, content) VALUES (?, ?, ?, ?)`

// PostContent returns the stored body of a blog post, or "".
func (r *Repository) PostContent(ctx context.Context, blogID, postID int64) (string, error) {
	if blogID == 0 || postID == 0 {
		return "", nil
	}
	content, err := scalar[string](ctx, r.db,
		`SELECT content FROM post_content WHERE blog_id = ? AND post_id = ?`, blogID, postID)
	if err != nil {
		return "", fmt.Errorf("post content %d/%d: %w", blogID, postID, err)
	}
	return content, nil
}

// ContentByIdentity returns the stored body for a post identity, or "".
func (r *Repository) ContentByIdentity(ctx context.Context, identity string) (string, error) {
	if identity == "" {
		return "", nil
	}
	content, err := scalar[string](ctx, r.db,
		`SELECT content FROM post_content WHERE pseudo_id = ?`, identity)
	if err != nil {
		return "", fmt.Errorf("post content %s: %w", identity, err)
	}
	return content, nil
}

// CountContent returns the number of stored bodies.
func (r *Repository) CountContent(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM post_content`)
}
