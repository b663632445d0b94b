// Package server exposes the chat service over HTTP. Handlers are mounted on
// a goa muxer and use the goa request decoder and response encoder, so the
// package plugs into the same server setup as generated goa transports:
//
//	srv := server.New(svc, mux, goahttp.RequestDecoder, goahttp.ResponseEncoder, logger)
//	server.Mount(mux, srv)
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	goahttp "goa.design/goa/v3/http"

	"github.com/helioai/lio-agent/runtime/agent/engine"
	"github.com/helioai/lio-agent/runtime/agent/service"
	"github.com/helioai/lio-agent/runtime/agent/telemetry"
)

type (
	// Service is the subset of the agent service used by the HTTP layer.
	Service interface {
		ProcessWithRetry(ctx context.Context, req service.ChatRequest, maxRetries int) (service.ChatResponse, error)
		Session(id string) (engine.Session, bool)
		ClearSession(ctx context.Context, id string) bool
		Metrics() service.Metrics
		Health() service.Health
	}

	// Server lists the chat endpoint HTTP handlers.
	Server struct {
		Mounts []*MountPoint

		svc    Service
		dec    func(*http.Request) goahttp.Decoder
		enc    func(context.Context, http.ResponseWriter) goahttp.Encoder
		logger telemetry.Logger
		now    func() time.Time
	}

	// MountPoint holds information about the mounted endpoints.
	MountPoint struct {
		// Method is the name of the service method served by the mounted HTTP handler.
		Method string
		// Verb is the HTTP method used to match requests to the mounted handler.
		Verb string
		// Pattern is the HTTP request path pattern used to match requests to the
		// mounted handler.
		Pattern string
	}

	// Envelope is the body of every chat API response.
	Envelope struct {
		Success   bool       `json:"success"`
		Data      any        `json:"data,omitempty"`
		Message   string     `json:"message,omitempty"`
		Timestamp *time.Time `json:"timestamp,omitempty"`
		Error     *ErrorBody `json:"error,omitempty"`
	}

	// ErrorBody describes a failed request.
	ErrorBody struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}

	chatRequestBody struct {
		Message   any            `json:"message"`
		SessionID string         `json:"sessionId"`
		Context   map[string]any `json:"context"`
	}
)

// Error codes returned in ErrorBody.Code.
const (
	CodeInvalidMessage  = "INVALID_MESSAGE"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeInternal        = "INTERNAL_ERROR"
)

// New instantiates HTTP handlers for the chat endpoints. A nil logger
// disables logging.
func New(
	svc Service,
	mux goahttp.Muxer,
	decoder func(*http.Request) goahttp.Decoder,
	encoder func(context.Context, http.ResponseWriter) goahttp.Encoder,
	logger telemetry.Logger,
) *Server {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Server{
		Mounts: []*MountPoint{
			{"Chat", "POST", "/chat"},
			{"GetSession", "GET", "/chat/session/{sessionId}"},
			{"ClearSession", "DELETE", "/chat/session/{sessionId}"},
			{"Stats", "GET", "/chat/stats"},
			{"Health", "GET", "/chat/health"},
		},
		svc:    svc,
		dec:    decoder,
		enc:    encoder,
		logger: logger,
		now:    time.Now,
	}
}

// Mount configures the mux to serve the chat endpoints.
func Mount(mux goahttp.Muxer, s *Server) {
	mux.Handle("POST", "/chat", s.chat)
	mux.Handle("GET", "/chat/session/{sessionId}", s.getSession(mux))
	mux.Handle("DELETE", "/chat/session/{sessionId}", s.clearSession(mux))
	mux.Handle("GET", "/chat/stats", s.stats)
	mux.Handle("GET", "/chat/health", s.health)
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body chatRequestBody
	if err := s.dec(r).Decode(&body); err != nil {
		s.fail(ctx, w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return
	}
	msg, ok := body.Message.(string)
	if !ok || msg == "" {
		s.fail(ctx, w, http.StatusBadRequest, CodeInvalidMessage, "Message is required and must be a string")
		return
	}
	res, err := s.svc.ProcessWithRetry(ctx, service.ChatRequest{
		Message:   msg,
		SessionID: body.SessionID,
		Context:   body.Context,
	}, 0)
	if err != nil {
		if errors.Is(err, service.ErrInvalidMessage) {
			s.fail(ctx, w, http.StatusBadRequest, CodeInvalidMessage, "Message is required and must be a string")
			return
		}
		s.internal(ctx, w, "chat", err)
		return
	}
	s.logger.Info(ctx, "chat handled", "session_id", res.SessionID, "response_time", res.Metadata.ResponseTime.String())
	s.write(ctx, w, http.StatusOK, Envelope{Success: true, Data: res})
}

func (s *Server) getSession(mux goahttp.Muxer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, ok := s.svc.Session(mux.Vars(r)["sessionId"])
		if !ok {
			s.fail(ctx, w, http.StatusNotFound, CodeSessionNotFound, "Session not found")
			return
		}
		s.write(ctx, w, http.StatusOK, Envelope{Success: true, Data: sess})
	}
}

func (s *Server) clearSession(mux goahttp.Muxer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !s.svc.ClearSession(ctx, mux.Vars(r)["sessionId"]) {
			s.fail(ctx, w, http.StatusNotFound, CodeSessionNotFound, "Session not found")
			return
		}
		s.write(ctx, w, http.StatusOK, Envelope{Success: true, Message: "Session cleared successfully"})
	}
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	s.write(r.Context(), w, http.StatusOK, Envelope{Success: true, Data: s.svc.Metrics()})
}

// health reports 503 only when the service is unhealthy; a degraded service
// still accepts traffic.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	h := s.svc.Health()
	now := s.now().UTC()
	env := Envelope{Success: true, Data: h, Timestamp: &now, Message: "Chat service is " + string(h.Status)}
	status := http.StatusOK
	if h.Status == service.StatusUnhealthy {
		env.Success = false
		status = http.StatusServiceUnavailable
	}
	s.write(r.Context(), w, status, env)
}

func (s *Server) fail(ctx context.Context, w http.ResponseWriter, status int, code, msg string) {
	s.logger.Warn(ctx, "chat request rejected", "code", code, "status", status)
	s.write(ctx, w, status, Envelope{Error: &ErrorBody{Message: msg, Code: code}})
}

// internal hides err from the client and logs it.
func (s *Server) internal(ctx context.Context, w http.ResponseWriter, op string, err error) {
	s.logger.Error(ctx, "chat request failed", "op", op, "err", err)
	s.write(ctx, w, http.StatusInternalServerError, Envelope{Error: &ErrorBody{Message: "Internal server error", Code: CodeInternal}})
}

func (s *Server) write(ctx context.Context, w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := s.enc(ctx, w).Encode(body); err != nil {
		s.logger.Error(ctx, "failed to encode response", "err", err)
	}
}
