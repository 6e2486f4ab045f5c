package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/xpert-ai/xpert-sub004/internal/log"
	"github.com/xpert-ai/xpert-sub004/internal/orchestrator"
	"github.com/xpert-ai/xpert-sub004/internal/protocol"
)

// ChatHandler runs turns and streams their envelopes as SSE.
type ChatHandler struct {
	orchestrator *orchestrator.Orchestrator
	heartbeat    time.Duration
	logger       log.Logger
}

// NewChatHandler creates a chat handler. A heartbeat of 0 selects the
// default interval.
func NewChatHandler(o *orchestrator.Orchestrator, heartbeat time.Duration, logger log.Logger) *ChatHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &ChatHandler{orchestrator: o, heartbeat: heartbeat, logger: logger}
}

// RegisterRoutes registers the chat route on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.chat)
}

// chat decodes a turn request and streams the turn. Setup failures are
// reported as JSON errors; once the first envelope is on the wire the
// response is committed as an event stream and any later failure travels
// inside it.
func (h *ChatHandler) chat(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	// The encoder is created on the first envelope so setup errors can
	// still pick their own status code.
	var (
		enc  *protocol.Encoder
		stop chan struct{}
		done chan struct{}
	)
	sink := func(env protocol.Envelope) error {
		if enc == nil {
			var err error
			if enc, err = protocol.NewEncoder(w); err != nil {
				return err
			}
			stop = make(chan struct{})
			done = make(chan struct{})
			go func() {
				defer close(done)
				h.keepalive(enc, stop)
			}()
		}
		return enc.Send(env)
	}

	err := h.orchestrator.RunTurn(r.Context(), req, sink)
	if stop != nil {
		// Join the keepalive goroutine: no write to w may happen after
		// the handler returns.
		close(stop)
		<-done
	}
	if err == nil || enc != nil {
		return
	}

	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, orchestrator.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation_not_found", err.Error())
	case errors.Is(err, orchestrator.ErrConversationBusy):
		writeError(w, http.StatusConflict, "conversation_busy", err.Error())
	case errors.Is(err, orchestrator.ErrNoPendingOperation):
		writeError(w, http.StatusConflict, "no_pending_operation", err.Error())
	default:
		h.logger.Error("turn setup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "turn failed to start")
	}
}

// keepalive writes comment frames so intermediaries keep the connection
// open while the engine is quiet. Decoders skip comment lines.
func (h *ChatHandler) keepalive(enc *protocol.Encoder, stop <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := enc.Comment("keepalive"); err != nil {
				return
			}
		}
	}
}
