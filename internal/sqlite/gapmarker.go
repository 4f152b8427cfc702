package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/blackmichael/readercache/internal/domain"
)

// ClearGapMarker removes the gap marker from stream, if it has one.
func (r *Repository) ClearGapMarker(ctx context.Context, stream domain.Stream) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE posts SET has_gap_marker = 0 WHERE has_gap_marker != 0 AND tag_name = ? AND tag_type = ?`,
		stream.Name, int(stream.Type),
	)
	if err != nil {
		return fmt.Errorf("clear gap marker in %s: %w", stream, err)
	}
	return nil
}

// SetGapMarker marks the stream's copy of a blog post and reports whether
// that row exists. It fails with domain.ErrGapMarkerConflict if another
// row of the stream is marked.
func (r *Repository) SetGapMarker(ctx context.Context, blogID, postID int64, stream domain.Stream) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE posts SET has_gap_marker = 1 WHERE blog_id = ? AND post_id = ? AND tag_name = ? AND tag_type = ?`,
		blogID, postID, stream.Name, int(stream.Type),
	)
	if isUniqueViolation(err) {
		return false, fmt.Errorf("set gap marker %d/%d in %s: %w", blogID, postID, stream, domain.ErrGapMarkerConflict)
	}
	if err != nil {
		return false, fmt.Errorf("set gap marker %d/%d in %s: %w", blogID, postID, stream, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set gap marker %d/%d in %s: %w", blogID, postID, stream, err)
	}
	return n > 0, nil
}

// GapMarkerLocation returns the blog and post id of the stream's marked
// row, or nil if the stream has no gap marker.
func (r *Repository) GapMarkerLocation(ctx context.Context, stream domain.Stream) (*domain.PostRef, error) {
	var ref domain.PostRef
	err := r.db.QueryRowContext(ctx,
		`SELECT blog_id, post_id FROM posts WHERE has_gap_marker != 0 AND tag_name = ? AND tag_type = ?`,
		stream.Name, int(stream.Type),
	).Scan(&ref.OwnerID, &ref.LocalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gap marker location in %s: %w", stream, err)
	}
	return &ref, nil
}

// GapMarkerSortValue returns the marked row's value of the stream's sort
// field. Dates are unix milliseconds. ok is false when unmarked.
func (r *Repository) GapMarkerSortValue(ctx context.Context, stream domain.Stream) (value float64, ok bool, err error) {
	col := domain.Classify(&stream).Sort.String()
	err = r.db.QueryRowContext(ctx,
		`SELECT `+col+` FROM posts WHERE has_gap_marker != 0 AND tag_name = ? AND tag_type = ?`,
		stream.Name, int(stream.Type),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("gap marker %s in %s: %w", col, stream, err)
	}
	return value, true, nil
}

// DeleteBeforeGapMarker deletes the stream's rows that sort strictly
// older than its gap marker. Copies of the same posts in other streams
// are left alone. Without a marker nothing is deleted.
func (r *Repository) DeleteBeforeGapMarker(ctx context.Context, stream domain.Stream) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "sqlite.DeleteBeforeGapMarker", streamAttrs(stream))
	defer span.End()

	col := domain.Classify(&stream).Sort.String()
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM posts
		WHERE tag_name = ? AND tag_type = ?
		AND `+col+` < (
			SELECT `+col+` FROM posts
			WHERE has_gap_marker != 0 AND tag_name = ? AND tag_type = ?
		)`,
		stream.Name, int(stream.Type), stream.Name, int(stream.Type),
	)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("delete before gap marker in %s: %w", stream, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete before gap marker in %s: %w", stream, err)
	}
	span.SetAttributes(attribute.Int64("deleted", n))
	return n, nil
}
