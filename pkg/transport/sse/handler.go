package sse

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/modoterra/cmdlog/pkg/core"
)

const maxRequestBytes = 1 << 20

// Handler runs posted commands and streams their output back.
type Handler struct {
	exec   core.Executor
	logger *slog.Logger
}

// NewHandler creates a handler backed by exec.
func NewHandler(exec core.Executor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{exec: exec, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ExecRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		http.Error(w, "command is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusNotImplemented)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	var mu sync.Mutex
	emit := func(content string, metadata any) {
		mu.Lock()
		defer mu.Unlock()
		if err := WriteRecord(w, content, metadata); err != nil {
			h.logger.Debug("write record", "err", err)
			return
		}
		flusher.Flush()
	}

	h.logger.Info("command started", "command", req.Command, "remote", r.RemoteAddr)
	code, err := h.exec.Run(ctx, req.Command, func(o core.Output) {
		emit(o.Content, map[string]any{"stream": o.Stream})
	})
	if ctx.Err() != nil {
		h.logger.Info("command cancelled by client", "command", req.Command)
		return
	}

	final := map[string]any{"is_complete": true, "exit_code": code}
	if err != nil {
		final["error"] = err.Error()
		h.logger.Warn("command error", "command", req.Command, "err", err)
	}
	emit("", final)
	h.logger.Info("command finished", "command", req.Command, "exit_code", code)
}
