// Package stream exposes captioning over WebSocket and a small HTTP query API.
package stream

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-qos/internal/captioning"
	"github.com/lexiqai/caption-qos/internal/captions"
	"github.com/lexiqai/caption-qos/internal/compliance"
	"github.com/lexiqai/caption-qos/internal/observability"
	"github.com/lexiqai/caption-qos/internal/telephony"
	"github.com/lexiqai/caption-qos/internal/transcription"
)

// Client events
const (
	EventStart = "start"
	EventMedia = "media"
	EventStop  = "stop"
)

// Server events
const (
	EventStarted = "started"
	EventCaption = "caption"
	EventSummary = "summary"
	EventError   = "error"
)

// ClientMessage is a message sent by a stream client
type ClientMessage struct {
	Event string        `json:"event"`
	Start *StartPayload `json:"start,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
}

// StartPayload opens a call on the stream
type StartPayload struct {
	From     string `json:"from"`
	To       string `json:"to"`
	CallType string `json:"callType"`
	Language string `json:"language,omitempty"`
}

// MediaPayload carries one audio unit
type MediaPayload struct {
	Payload   string `json:"payload"` // Base64 encoded audio
	Reference string `json:"reference,omitempty"`
}

// ServerMessage is a message sent to a stream client
type ServerMessage struct {
	Event   string                 `json:"event"`
	CallID  string                 `json:"callId,omitempty"`
	Call    *telephony.CallSession `json:"call,omitempty"`
	Caption *captions.Event        `json:"caption,omitempty"`
	Verdict *compliance.Verdict    `json:"verdict,omitempty"`
	Summary *compliance.Summary    `json:"summary,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Handler serves the caption stream and query endpoints
type Handler struct {
	svc      *captioning.Service
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates the transport for svc
func NewHandler(svc *captioning.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		svc: svc,
		upgrader: websocket.Upgrader{
			// Viewers connect from arbitrary caption clients
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

// Register mounts the handler's routes on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /streams/captions", h.HandleCaptionStream)
	mux.HandleFunc("GET /calls/{id}", h.HandleGetCall)
	mux.HandleFunc("DELETE /calls/{id}", h.HandlePurgeCall)
	mux.HandleFunc("GET /calls/{id}/captions", h.HandleGetCaptions)
	mux.HandleFunc("GET /compliance/summary", h.HandleComplianceSummary)
}

// HandleCaptionStream upgrades the connection and runs one call over it
func (h *Handler) HandleCaptionStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	s := &streamSession{
		conn:   conn,
		svc:    h.svc,
		logger: observability.WithCorrelationID(r.Header.Get("X-Correlation-ID")),
	}
	s.run(r)
}

type streamSession struct {
	conn   *websocket.Conn
	svc    *captioning.Service
	callID string
	logger zerolog.Logger
}

func (s *streamSession) run(r *http.Request) {
	defer s.endCall()

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendError(fmt.Errorf("invalid message: %w", err))
			continue
		}

		switch msg.Event {
		case EventStart:
			s.handleStart(msg.Start)

		case EventMedia:
			s.handleMedia(r, msg.Media)

		case EventStop:
			s.handleStop()
			return

		default:
			s.sendError(fmt.Errorf("unknown event %q", msg.Event))
		}
	}
}

func (s *streamSession) handleStart(p *StartPayload) {
	if s.callID != "" {
		s.sendError(errors.New("call already started on this stream"))
		return
	}
	if p == nil {
		s.sendError(errors.New("start event missing payload"))
		return
	}

	callType, err := telephony.ParseCallType(p.CallType)
	if err != nil {
		s.sendError(err)
		return
	}

	call, err := s.svc.StartCall(p.From, p.To, callType, p.Language)
	if err != nil {
		s.sendError(err)
		return
	}

	s.callID = call.ID
	s.logger = observability.WithCall(s.logger, call.ID)
	s.logger.Info().Str("call_type", callType.String()).Msg("Caption stream started")
	s.send(ServerMessage{Event: EventStarted, CallID: call.ID, Call: &call})
}

func (s *streamSession) handleMedia(r *http.Request, p *MediaPayload) {
	if s.callID == "" {
		s.sendError(errors.New("media before start"))
		return
	}
	if p == nil || p.Payload == "" {
		s.sendError(errors.New("media event missing payload"))
		return
	}

	audio, err := base64.StdEncoding.DecodeString(p.Payload)
	if err != nil {
		s.sendError(fmt.Errorf("failed to decode base64 audio: %w", err))
		return
	}

	out, err := s.svc.HandleAudio(r.Context(), s.callID, transcription.AudioUnit{Data: audio, Reference: p.Reference})
	if err != nil {
		s.sendError(err)
		return
	}

	s.send(ServerMessage{Event: EventCaption, CallID: s.callID, Caption: &out.Caption, Verdict: out.Verdict})
}

func (s *streamSession) handleStop() {
	if s.callID == "" {
		return
	}
	callID := s.callID
	s.endCall()

	summary := s.svc.CallSummary(callID)
	s.send(ServerMessage{Event: EventSummary, CallID: callID, Summary: &summary})
}

func (s *streamSession) endCall() {
	if s.callID == "" {
		return
	}
	if _, err := s.svc.EndCall(s.callID); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to end call")
	}
	s.logger.Info().Msg("Caption stream ended")
	s.callID = ""
}

func (s *streamSession) send(msg ServerMessage) {
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Warn().Err(err).Str("event", msg.Event).Msg("Failed to write to WebSocket")
	}
}

func (s *streamSession) sendError(err error) {
	s.logger.Debug().Err(err).Msg("Rejected stream message")
	s.send(ServerMessage{Event: EventError, CallID: s.callID, Error: err.Error()})
}

// HandleGetCall returns the call's status and metrics
func (h *Handler) HandleGetCall(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	call, err := h.svc.Calls().Status(id)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics, err := h.svc.Calls().Metrics(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"call":    call,
		"metrics": metrics,
	})
}

// HandlePurgeCall drops an ended call and everything recorded for it
func (h *Handler) HandlePurgeCall(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.PurgeCall(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetCaptions returns the call's delivered captions and latency stats
func (h *Handler) HandleGetCaptions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.svc.Calls().Status(id); err != nil {
		writeError(w, err)
		return
	}

	q := h.svc.Captions()
	writeJSON(w, http.StatusOK, map[string]any{
		"call_id":  id,
		"captions": q.Log(id),
		"ordered":  q.Ordered(id),
		"latency":  q.Metrics(id),
	})
}

// HandleComplianceSummary returns the aggregate over all verdicts
func (h *Handler) HandleComplianceSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"compliance": h.svc.Summary(),
		"latency":    h.svc.Captions().Metrics(""),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, telephony.ErrCallNotFound):
		status = http.StatusNotFound
	case errors.Is(err, telephony.ErrInvalidStateTransition):
		status = http.StatusConflict
	case errors.Is(err, telephony.ErrMalformedInput), errors.Is(err, transcription.ErrMalformedInput):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
