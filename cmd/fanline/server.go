package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/haileyok/fanline"
	"github.com/haileyok/fanline/internal/realtime"
	"github.com/haileyok/fanline/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// server is thin request glue. Auth is an external concern; callers
// identify themselves by user_id and the deployment fronts this with its
// own gateway.
type server struct {
	logger      *slog.Logger
	addr        string
	metricsAddr string
	engine      *fanline.Engine
	store       *store.Postgres
	hub         *realtime.Hub
}

type serverArgs struct {
	Logger      *slog.Logger
	Addr        string
	MetricsAddr string
	Engine      *fanline.Engine
	Store       *store.Postgres
	Hub         *realtime.Hub
}

func newServer(args *serverArgs) *server {
	return &server{
		logger:      args.Logger,
		addr:        args.Addr,
		metricsAddr: args.MetricsAddr,
		engine:      args.Engine,
		store:       args.Store,
		hub:         args.Hub,
	}
}

func (s *server) run(ctx context.Context) error {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		s.logger.Info("starting metrics server", "addr", s.metricsAddr)
		if err := http.ListenAndServe(s.metricsAddr, mux); err != nil {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /posts", s.handleCreatePost)
	mux.HandleFunc("DELETE /posts/{id}", s.handleDeletePost)
	mux.HandleFunc("GET /timeline/home", s.handleHomeTimeline)
	mux.HandleFunc("GET /timeline/user/{id}", s.handleUserTimeline)
	mux.HandleFunc("POST /follows", s.handleFollow)
	mux.HandleFunc("DELETE /follows", s.handleUnfollow)
	mux.HandleFunc("GET /ws", s.handleWS)

	httpServer := &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting server", "addr", s.addr)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("error writing response", "error", err)
	}
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	switch {
	case fanline.IsPolicy(err):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, fanline.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		s.logger.Error("request failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

type createPostRequest struct {
	AuthorID int64  `json:"author_id"`
	Content  string `json:"content"`
	ReplyTo  *int64 `json:"reply_to_id,omitempty"`
}

func (s *server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	post, err := s.engine.CreatePost(r.Context(), req.AuthorID, req.Content, req.ReplyTo)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, post)
}

func (s *server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	postID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid post id"})
		return
	}

	userID, err := queryInt64(r, "user_id")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user_id"})
		return
	}

	if err := s.engine.DeletePost(r.Context(), postID, userID); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleHomeTimeline(w http.ResponseWriter, r *http.Request) {
	userID, err := queryInt64(r, "user_id")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user_id"})
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
	}

	page, err := s.engine.GetHomeTimeline(r.Context(), userID, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, page)
}

func (s *server) handleUserTimeline(w http.ResponseWriter, r *http.Request) {
	authorID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
	}

	page, err := s.engine.GetUserTimeline(r.Context(), authorID, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, page)
}

type followRequest struct {
	FollowerID int64 `json:"follower_id"`
	FolloweeID int64 `json:"followee_id"`
}

func (s *server) handleFollow(w http.ResponseWriter, r *http.Request) {
	var req followRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	if err := s.store.Follow(r.Context(), req.FollowerID, req.FolloweeID); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.engine.OnFollow(r.Context(), req.FollowerID, req.FolloweeID); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	var req followRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	if err := s.store.Unfollow(r.Context(), req.FollowerID, req.FolloweeID); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.engine.OnUnfollow(r.Context(), req.FollowerID, req.FolloweeID); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := queryInt64(r, "user_id")
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}

	s.hub.HandleWS(w, r, userID)
}

func queryInt64(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
}
