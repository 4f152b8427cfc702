// Package ingest receives fetched post batches over a websocket and hands
// them to the reader service.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blackmichael/readercache/internal/domain"
	"github.com/blackmichael/readercache/internal/observe"
)

const statsInterval = 30 * time.Second

// Ingester stores one parsed batch.
type Ingester interface {
	Ingest(ctx context.Context, req domain.IngestRequest) (domain.IngestResult, error)
}

// Subscriber connects to the fetch layer's batch feed and ingests every
// message it receives.
type Subscriber struct {
	url     string
	reader  Ingester
	metrics *observe.Metrics
	logger  *slog.Logger
}

// NewSubscriber creates a new batch subscriber. metrics may be nil.
func NewSubscriber(url string, reader Ingester, metrics *observe.Metrics, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		url:     url,
		reader:  reader,
		metrics: metrics,
		logger:  logger,
	}
}

// Run connects and processes batches until ctx is cancelled or the
// connection ends. A normal close from the server returns nil. Run does
// not reconnect.
func (s *Subscriber) Run(ctx context.Context) error {
	s.logger.Info("connecting to ingest feed", "url", s.url)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial ingest feed: %w", err)
	}
	defer conn.Close()

	// ReadMessage does not observe ctx.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.logger.Info("connected to ingest feed")

	var batchesReceived, batchesRejected, batchesFailed, postsIngested int64
	lastStatsLog := time.Now()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("ingest feed closed")
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		batchesReceived++

		req, err := parseBatch(message)
		if err != nil {
			batchesRejected++
			s.logger.Error("failed to parse batch", "error", err)
			continue
		}

		if err := s.handleBatch(ctx, req); err != nil {
			batchesFailed++
			s.logger.Error("failed to ingest batch", "action", req.Action.String(), "posts", len(req.Posts), "error", err)
		} else {
			postsIngested += int64(len(req.Posts))
		}

		if time.Since(lastStatsLog) >= statsInterval {
			s.logger.Info("ingest stats",
				"batches_received", batchesReceived,
				"batches_rejected", batchesRejected,
				"batches_failed", batchesFailed,
				"posts_ingested", postsIngested,
			)
			lastStatsLog = time.Now()
		}
	}
}

func (s *Subscriber) handleBatch(ctx context.Context, req domain.IngestRequest) error {
	res, err := s.reader.Ingest(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrGapMarkerConflict) {
			s.logger.Warn("gap marker conflict", "stream", streamName(req.Stream))
		}
		return err
	}

	if s.metrics != nil {
		s.metrics.ObserveIngest(req.Action, res.Result)
	}
	s.logger.Debug("ingested batch",
		"stream", streamName(req.Stream),
		"action", req.Action.String(),
		"posts", len(req.Posts),
		"result", res.Result.String(),
		"gap_marked", res.GapMarked,
	)
	return nil
}

func streamName(stream *domain.Stream) string {
	if stream == nil {
		return ""
	}
	return stream.String()
}
