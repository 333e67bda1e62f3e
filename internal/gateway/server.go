package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MEKXH/pushgate/internal/action"
	"github.com/MEKXH/pushgate/internal/chain"
	"github.com/MEKXH/pushgate/internal/config"
	"github.com/MEKXH/pushgate/internal/metrics"
	"github.com/MEKXH/pushgate/internal/requestid"
	"github.com/MEKXH/pushgate/internal/version"
)

const maxBodyBytes = 64 << 10

// PushEvaluator runs the evaluation chain for one push.
type PushEvaluator interface {
	Run(ctx context.Context, a *action.Action) (chain.Result, error)
}

// MetricsSource exposes the current hook metrics.
type MetricsSource interface {
	Snapshot() metrics.RuntimeSnapshot
}

type Server struct {
	cfg        config.GatewayConfig
	evaluator  PushEvaluator
	metrics    MetricsSource
	httpServer *http.Server
}

func New(cfg config.GatewayConfig, evaluator PushEvaluator, metrics MetricsSource) *Server {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 18790
	}

	cfg.Host = host
	cfg.Port = port
	return &Server{
		cfg:       cfg,
		evaluator: evaluator,
		metrics:   metrics,
	}
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

func (s *Server) Start() error {
	mux := NewHandler(s.cfg.Token, s.evaluator, s.metrics)
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// evaluateRequest is the POST /evaluate body.
type evaluateRequest struct {
	Repo         string `json:"repo"`
	ProxyGitPath string `json:"proxy_git_path"`
	Branch       string `json:"branch"`
	CommitFrom   string `json:"commit_from"`
	CommitTo     string `json:"commit_to"`
}

func (r evaluateRequest) missing() string {
	switch {
	case strings.TrimSpace(r.Repo) == "":
		return "repo"
	case strings.TrimSpace(r.Branch) == "":
		return "branch"
	case strings.TrimSpace(r.CommitFrom) == "":
		return "commit_from"
	case strings.TrimSpace(r.CommitTo) == "":
		return "commit_to"
	}
	return ""
}

func NewHandler(token string, evaluator PushEvaluator, metricsSrc MetricsSource) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		requestID := requestid.FromRequest(r)
		if r.Method != http.MethodGet {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"request_id": requestID,
		})
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		requestID := requestid.FromRequest(r)
		if r.Method != http.MethodGet {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"version":    version.Version,
			"commit":     version.Commit,
			"request_id": requestID,
		})
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		requestID := requestid.FromRequest(r)
		if r.Method != http.MethodGet {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		if strings.TrimSpace(token) != "" && !isAuthorized(r, token) {
			writeError(w, requestID, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		var snap metrics.RuntimeSnapshot
		if metricsSrc != nil {
			snap = metricsSrc.Snapshot()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"hook":           snap.Hook,
			"updated_at":     snap.UpdatedAt,
			"error_ratio":    snap.Hook.ErrorRatio(),
			"timeout_ratio":  snap.Hook.TimeoutRatio(),
			"avg_latency_ms": snap.Hook.AvgLatencyMs(),
			"request_id":     requestID,
		})
	})
	mux.HandleFunc("/evaluate", func(w http.ResponseWriter, r *http.Request) {
		requestID := requestid.FromRequest(r)
		if r.Method != http.MethodPost {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		if strings.TrimSpace(token) != "" && !isAuthorized(r, token) {
			writeError(w, requestID, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}

		var req evaluateRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
			return
		}
		if field := req.missing(); field != "" {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", field+" is required")
			return
		}
		if evaluator == nil {
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "evaluator is not configured")
			return
		}

		a := action.New(requestID, req.Repo, req.ProxyGitPath, req.Branch, req.CommitFrom, req.CommitTo)
		ctx := requestid.WithContext(r.Context(), requestID)
		res, err := evaluator.Run(ctx, a)
		if err != nil {
			slog.Error("gateway evaluate failed", "request_id", requestID, "repo", req.Repo, "error", err)
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to evaluate push")
			return
		}

		body := map[string]any{
			"request_id":     requestID,
			"verdict":        res.Verdict,
			"approval_state": res.Action.ApprovalState,
			"continue":       res.Action.ContinuePipeline(),
			"steps":          res.Action.Steps,
		}
		if res.Review != nil {
			body["review_id"] = res.Review.ID
		}
		w.Header().Set(requestid.Header, requestID)
		writeJSON(w, http.StatusOK, body)
	})
	return mux
}

func isAuthorized(r *http.Request, expected string) bool {
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	if got == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(got, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(got, prefix))
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":       code,
		"message":    message,
		"request_id": requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
