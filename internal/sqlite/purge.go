package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blackmichael/readercache/internal/domain"
)

// Purge runs one retention pass in a single transaction:
//
//  1. rows tagged with a stream name not in known are removed, including
//     the untagged rows of blog and feed views;
//  2. each known stream keeps only its newest maxPerStream rows by its
//     sort field;
//  3. all search result rows are removed;
//  4. if anything was removed, bodies no post refers to are removed.
//
// Any failure rolls back the whole pass.
func (r *Repository) Purge(ctx context.Context, known []domain.Stream, maxPerStream int) (domain.PurgeReport, error) {
	if maxPerStream <= 0 {
		maxPerStream = domain.DefaultMaxPostsPerStream
	}

	report := domain.PurgeReport{PerStream: make(map[domain.Stream]int64)}

	err := r.withTx(ctx, "Purge", func(ctx context.Context, tx *sql.Tx) error {
		report = domain.PurgeReport{PerStream: make(map[domain.Stream]int64)}

		names := make([]string, 0, len(known))
		for _, s := range known {
			names = append(names, s.Name)
		}
		set, err := jsonSet(names)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM posts WHERE tag_name NOT IN (SELECT value FROM json_each(?))`, set)
		if err != nil {
			return fmt.Errorf("purge orphaned posts: %w", err)
		}
		if report.Orphaned, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("purge orphaned posts: %w", err)
		}

		for _, stream := range known {
			if _, seen := report.PerStream[stream]; seen {
				continue
			}
			n, err := purgeStream(ctx, tx, stream, maxPerStream)
			if err != nil {
				return err
			}
			report.PerStream[stream] = n
		}

		res, err = tx.ExecContext(ctx, `DELETE FROM posts WHERE tag_type = ?`, int(domain.StreamSearch))
		if err != nil {
			return fmt.Errorf("purge search results: %w", err)
		}
		if report.Search, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("purge search results: %w", err)
		}

		if report.Total() == 0 {
			return nil
		}

		res, err = tx.ExecContext(ctx,
			`DELETE FROM post_content WHERE pseudo_id NOT IN (SELECT pseudo_id FROM posts)`)
		if err != nil {
			return fmt.Errorf("purge orphaned content: %w", err)
		}
		if report.Content, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("purge orphaned content: %w", err)
		}
		return nil
	}, trace.WithAttributes(
		attribute.Int("streams", len(known)),
		attribute.Int("max_per_stream", maxPerStream),
	))
	if err != nil {
		return domain.PurgeReport{}, err
	}
	return report, nil
}

// purgeStream removes the rows of stream outside its newest max by the
// stream's sort field. Ties keep the lower identity.
func purgeStream(ctx context.Context, tx *sql.Tx, stream domain.Stream, max int) (int64, error) {
	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE tag_name = ? AND tag_type = ?`,
		stream.Name, int(stream.Type),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count posts in %s: %w", stream, err)
	}
	if count <= max {
		return 0, nil
	}

	col := domain.Classify(&stream).Sort.String()
	res, err := tx.ExecContext(ctx, `
		DELETE FROM posts
		WHERE tag_name = ? AND tag_type = ?
		AND pseudo_id NOT IN (
			SELECT pseudo_id FROM posts
			WHERE tag_name = ? AND tag_type = ?
			ORDER BY `+col+` DESC, pseudo_id
			LIMIT ?
		)`,
		stream.Name, int(stream.Type), stream.Name, int(stream.Type), max,
	)
	if err != nil {
		return 0, fmt.Errorf("purge posts in %s: %w", stream, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge posts in %s: %w", stream, err)
	}
	return n, nil
}
