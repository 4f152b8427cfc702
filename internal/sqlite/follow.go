package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blackmichael/readercache/internal/domain"
)

// SetLikes updates the like count and liked flag on every stored copy of
// a blog post.
func (r *Repository) SetLikes(ctx context.Context, blogID, postID int64, numLikes int, liked bool) error {
	if blogID == 0 || postID == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE posts SET num_likes = ?, is_liked = ? WHERE blog_id = ? AND post_id = ?`,
		numLikes, boolToInt(liked), blogID, postID,
	)
	if err != nil {
		return fmt.Errorf("set likes %d/%d: %w", blogID, postID, err)
	}
	return nil
}

// SetFollowStatus sets the followed flag on every row of a blog or feed.
// Unfollowing also removes the owner's rows from the Followed Sites
// stream. Both changes commit together or not at all.
func (r *Repository) SetFollowStatus(ctx context.Context, kind domain.OwnerKind, ownerID int64, followed bool) error {
	if ownerID == 0 {
		return nil
	}
	ownerCol, _ := ownerColumns(kind)

	return r.withTx(ctx, "SetFollowStatus", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE posts SET is_followed = ? WHERE `+ownerCol+` = ?`,
			boolToInt(followed), ownerID,
		); err != nil {
			return fmt.Errorf("set follow status for %s %d: %w", kind, ownerID, err)
		}

		if followed {
			return nil
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM posts WHERE `+ownerCol+` = ? AND tag_name = ? AND tag_type = ?`,
			ownerID, domain.StreamFollowedSites, int(domain.StreamDefault),
		)
		if err != nil {
			return fmt.Errorf("remove %s %d from followed sites: %w", kind, ownerID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			r.logger.Debug("removed unfollowed posts from followed sites", "owner", kind.String(), "owner_id", ownerID, "deleted", n)
		}
		return nil
	}, trace.WithAttributes(
		attribute.String("owner.kind", kind.String()),
		attribute.Int64("owner.id", ownerID),
		attribute.Bool("followed", followed),
	))
}

// ReconcileFollowedStatus clears the followed flag on every row whose
// blog is not in followedBlogIDs and returns the number of rows changed.
func (r *Repository) ReconcileFollowedStatus(ctx context.Context, followedBlogIDs []int64) (int64, error) {
	set, err := jsonSet(followedBlogIDs)
	if err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE posts SET is_followed = 0
		WHERE is_followed != 0
		AND blog_id NOT IN (SELECT value FROM json_each(?))`,
		set,
	)
	if err != nil {
		return 0, fmt.Errorf("reconcile followed status: %w", err)
	}
	return res.RowsAffected()
}

// jsonSet encodes values as a JSON array for use with json_each.
func jsonSet[T any](values []T) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode set: %w", err)
	}
	return string(b), nil
}
