package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blackmichael/readercache/internal/config"
	"github.com/blackmichael/readercache/internal/domain"
	"github.com/blackmichael/readercache/internal/observe"
	"github.com/blackmichael/readercache/internal/scheduler"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Maintenance job names shared by the schedule and the on-demand endpoints.
const (
	PurgeJob     = "purge"
	ReconcileJob = "reconcile-follows"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JobRunner runs maintenance jobs on demand and reports their schedule.
type JobRunner interface {
	RunNow(ctx context.Context, name string, job scheduler.Job) error
	Jobs() []scheduler.JobInfo
}

// Server is the HTTP server that exposes the reader cache read and
// maintenance endpoints.
type Server struct {
	reader     *domain.ReaderService
	store      Pinger
	jobs       JobRunner
	metrics    *observe.Metrics
	logger     *slog.Logger
	handler    http.Handler
	httpServer *http.Server
}

// NewServer creates a new HTTP server backed by the reader service.
// metrics and gatherer may be nil, in which case /metrics is not served.
func NewServer(
	cfg *config.Config,
	reader *domain.ReaderService,
	store Pinger,
	jobs JobRunner,
	metrics *observe.Metrics,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
) *Server {
	s := &Server{
		reader:  reader,
		store:   store,
		jobs:    jobs,
		metrics: metrics,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/streams/posts", s.handleStreamPosts)
	mux.HandleFunc("GET /v1/blogs/{blogID}/posts/{postID}", s.handleBlogPost)
	mux.HandleFunc("POST /v1/maintenance/purge", s.handlePurge)
	mux.HandleFunc("POST /v1/maintenance/reconcile-follows", s.handleReconcile)
	mux.HandleFunc("GET /v1/maintenance/jobs", s.handleJobs)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.handler = withLogging(logger, metrics, mux)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "store is not reachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStreamPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "name parameter is required")
		return
	}

	streamType, err := domain.ParseStreamType(q.Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	limit := defaultLimit
	if l := q.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > maxLimit {
			s.logger.Warn("invalid limit parameter", "limit", l, "error", err)
			writeError(w, http.StatusBadRequest, "InvalidRequest", fmt.Sprintf("limit must be between 1 and %d", maxLimit))
			return
		}
		limit = parsed
	}

	stream := domain.Stream{Name: name, Type: streamType}
	posts, err := s.reader.PostsInStream(r.Context(), stream, limit)
	if err != nil {
		s.logger.Error("failed to list stream posts", "stream", stream.String(), "limit", limit, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to list posts")
		return
	}

	resp := make([]postResponse, len(posts))
	for i := range posts {
		resp[i] = toPostResponse(&posts[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stream": map[string]string{"name": stream.Name, "type": stream.Type.String()},
		"posts":  resp,
	})
}

func (s *Server) handleBlogPost(w http.ResponseWriter, r *http.Request) {
	blogID, err1 := strconv.ParseInt(r.PathValue("blogID"), 10, 64)
	postID, err2 := strconv.ParseInt(r.PathValue("postID"), 10, 64)
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "blog and post ids must be integers")
		return
	}

	withContent := r.URL.Query().Get("content") == "1"
	post, err := s.reader.FindPost(r.Context(), domain.OwnerBlog, blogID, postID, withContent)
	if err != nil {
		s.logger.Error("failed to find post", "blog_id", blogID, "post_id", postID, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to load post")
		return
	}
	if post == nil {
		writeError(w, http.StatusNotFound, "NotFound", "post is not cached")
		return
	}

	writeJSON(w, http.StatusOK, toPostResponse(post))
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	var deleted int64
	err := s.jobs.RunNow(r.Context(), PurgeJob, func(ctx context.Context) (err error) {
		deleted, err = s.reader.RunPurge(ctx)
		return err
	})
	if err != nil {
		s.logger.Error("purge request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "purge failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var updated int64
	err := s.jobs.RunNow(r.Context(), ReconcileJob, func(ctx context.Context) (err error) {
		updated, err = s.reader.ReconcileFollowedStatus(ctx)
		return err
	})
	if err != nil {
		s.logger.Error("reconcile request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "reconcile failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

type jobResponse struct {
	Name    string     `json:"name"`
	NextRun *time.Time `json:"next_run,omitempty"`
	LastRun *time.Time `json:"last_run,omitempty"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.Jobs()
	resp := make([]jobResponse, len(jobs))
	for i, j := range jobs {
		resp[i] = jobResponse{Name: j.Name, NextRun: optionalTime(j.NextRun), LastRun: optionalTime(j.LastRun)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": resp})
}

type postResponse struct {
	Identity      string     `json:"identity"`
	BlogID        int64      `json:"blog_id,omitempty"`
	PostID        int64      `json:"post_id,omitempty"`
	FeedID        int64      `json:"feed_id,omitempty"`
	FeedItemID    int64      `json:"feed_item_id,omitempty"`
	Title         string     `json:"title"`
	Excerpt       string     `json:"excerpt,omitempty"`
	AuthorName    string     `json:"author_name,omitempty"`
	BlogName      string     `json:"blog_name,omitempty"`
	URL           string     `json:"url,omitempty"`
	FeaturedImage string     `json:"featured_image,omitempty"`
	NumReplies    int        `json:"num_replies"`
	NumLikes      int        `json:"num_likes"`
	IsLiked       bool       `json:"is_liked"`
	IsFollowed    bool       `json:"is_followed"`
	HasGapMarker  bool       `json:"has_gap_marker,omitempty"`
	DatePublished *time.Time `json:"date_published,omitempty"`
	DateLiked     *time.Time `json:"date_liked,omitempty"`
	DateTagged    *time.Time `json:"date_tagged,omitempty"`
	Content       string     `json:"content,omitempty"`
}

func toPostResponse(p *domain.Post) postResponse {
	return postResponse{
		Identity:      p.Identity,
		BlogID:        p.BlogID,
		PostID:        p.PostID,
		FeedID:        p.FeedID,
		FeedItemID:    p.FeedItemID,
		Title:         p.Title,
		Excerpt:       p.Excerpt,
		AuthorName:    p.AuthorName,
		BlogName:      p.BlogName,
		URL:           p.URL,
		FeaturedImage: p.FeaturedImage,
		NumReplies:    p.NumReplies,
		NumLikes:      p.NumLikes,
		IsLiked:       p.IsLiked,
		IsFollowed:    p.IsFollowed,
		HasGapMarker:  p.HasGapMarker,
		DatePublished: optionalTime(p.DatePublished),
		DateLiked:     optionalTime(p.DateLiked),
		DateTagged:    optionalTime(p.DateTagged),
		Content:       p.Content,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, metrics *observe.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
		if metrics != nil {
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			metrics.ObserveRequest(route, wrapped.status, start)
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
