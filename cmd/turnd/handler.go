package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"turncore/internal/domain"
	"turncore/internal/session"
)

// turnHandler implements spec §6's Turn API: POST /turn.
type turnHandler struct {
	controller *session.Controller
	logger     *zap.Logger
	timeout    time.Duration
}

func newHandler(controller *session.Controller, logger *zap.Logger, timeout time.Duration) *turnHandler {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &turnHandler{controller: controller, logger: logger, timeout: timeout}
}

type turnRequest struct {
	BotID        string `json:"bot_id"`
	UserID       string `json:"user_id"`
	Message      string `json:"message"`
	ClientTurnID string `json:"client_turn_id"`
}

type turnResponse struct {
	Status            string       `json:"status"`
	Segments          []segmentDTO `json:"segments"`
	IsMacroDelay      bool         `json:"is_macro_delay,omitempty"`
	MacroDelaySeconds float64      `json:"macro_delay_seconds,omitempty"`
	UserCreatedAt     *time.Time   `json:"user_created_at,omitempty"`
	AiCreatedAt       *time.Time   `json:"ai_created_at,omitempty"`
	Error             string       `json:"error,omitempty"`
}

type segmentDTO struct {
	Content      string  `json:"content"`
	DelaySeconds float64 `json:"delay_seconds"`
	Action       string  `json:"action"`
}

func (h *turnHandler) handleTurn(w http.ResponseWriter, req *http.Request) {
	var in turnRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, turnResponse{Status: "error", Error: "invalid json"})
		return
	}
	if in.BotID == "" || in.UserID == "" || in.Message == "" {
		writeJSON(w, http.StatusBadRequest, turnResponse{Status: "error", Error: "bot_id, user_id and message are required"})
		return
	}

	ctx, cancel := withRequestTimeout(req, h.timeout)
	defer cancel()

	res, err := h.controller.Submit(ctx, session.Request{
		BotID:        in.BotID,
		ExternalID:   in.UserID,
		Message:      in.Message,
		ClientTurnID: in.ClientTurnID,
	})
	if err != nil {
		h.logger.Error("turn submit failed", zap.String("bot_id", in.BotID), zap.String("user_id", in.UserID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, turnResponse{Status: "error", Error: err.Error()})
		return
	}

	switch res.Status {
	case "superseded":
		writeJSON(w, http.StatusConflict, turnResponse{Status: "superseded"})
	case "success":
		writeJSON(w, http.StatusOK, turnResponse{
			Status:            "success",
			Segments:          toSegmentDTOs(res.Segments),
			IsMacroDelay:      res.IsMacroDelay,
			MacroDelaySeconds: res.MacroDelay.Seconds(),
			UserCreatedAt:     &res.UserCreatedAt,
			AiCreatedAt:       &res.AiCreatedAt,
		})
	default:
		msg := ""
		if res.Err != nil {
			msg = res.Err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, turnResponse{Status: "error", Error: msg})
	}
}

func withRequestTimeout(req *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(req.Context(), timeout)
}

func toSegmentDTOs(segs []domain.SegmentDraft) []segmentDTO {
	out := make([]segmentDTO, len(segs))
	for i, s := range segs {
		out[i] = segmentDTO{Content: s.Content, DelaySeconds: s.DelaySeconds, Action: s.Action}
	}
	return out
}
