// Package handler serves the generation and export pipelines behind API Gateway.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"chatbridge/internal/config"
	"chatbridge/internal/domain"
	"chatbridge/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// Replier produces one buffered assistant reply.
type Replier interface {
	Complete(ctx context.Context, conv *domain.Conversation, in usecase.GenerateInput) (domain.Message, error)
}

// Exporter publishes a transcript.
type Exporter interface {
	ExportChatHistory(ctx context.Context, cfg domain.ExportConfig, transcript []domain.Message, systemPrompt string) (domain.ExportResult, error)
}

// Handler routes API Gateway proxy events.
type Handler struct {
	replier  Replier
	exporter Exporter
	settings func() config.Settings
	secrets  config.SecretResolver
}

// NewHandler wires the handler. settings is called once per request so a
// reloaded config file applies to the next request only.
func NewHandler(replier Replier, exporter Exporter, settings func() config.Settings, secrets config.SecretResolver) (*Handler, error) {
	if replier == nil {
		return nil, errors.New("handler: replier must not be nil")
	}
	if exporter == nil {
		return nil, errors.New("handler: exporter must not be nil")
	}
	if settings == nil {
		return nil, errors.New("handler: settings must not be nil")
	}
	return &Handler{replier: replier, exporter: exporter, settings: settings, secrets: secrets}, nil
}

type generateRequest struct {
	History     []domain.Message    `json:"history"`
	Message     string              `json:"message"`
	Attachments []domain.Attachment `json:"attachments"`
}

type generateResponse struct {
	Reply    domain.Message   `json:"reply"`
	Messages []domain.Message `json:"messages"`
}

type exportRequest struct {
	Transcript []domain.Message `json:"transcript"`
}

type exportResponse struct {
	Target     domain.ExportTarget `json:"target"`
	DocumentID string              `json:"documentId"`
	Blocks     int                 `json:"blocks"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := slog.With("correlationId", correlationID, "path", req.Path)

	if req.HTTPMethod != http.MethodPost {
		return respond(correlationID, http.StatusMethodNotAllowed, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "method_not_allowed"}), nil
	}

	var (
		status int
		body   any
	)
	switch strings.TrimSuffix(req.Path, "/") {
	case "/generate":
		status, body = h.generate(ctx, req.Body)
	case "/export":
		status, body = h.export(ctx, req.Body)
	default:
		status, body = http.StatusNotFound, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "unknown_route"}
	}

	if status >= 500 {
		log.Error("request failed", "status", status, "body", body)
	} else if status >= 400 {
		log.Warn("request rejected", "status", status, "body", body)
	}
	return respond(correlationID, status, body), nil
}

func (h *Handler) generate(ctx context.Context, raw string) (int, any) {
	var in generateRequest
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return invalid("invalid_json")
	}
	if strings.TrimSpace(in.Message) == "" && len(in.Attachments) == 0 {
		return invalid("empty_message")
	}

	s := h.settings()
	genIn, err := s.GenerateInput(ctx, h.secrets, in.Message, in.Attachments)
	if err != nil {
		return failure(usecase.Classify("generate_config", err))
	}

	conv := domain.NewConversation()
	for _, m := range in.History {
		conv.Append(m)
	}
	reply, err := h.replier.Complete(ctx, conv, genIn)
	if err != nil {
		return failure(usecase.Classify("generation_failed", err))
	}
	return http.StatusOK, generateResponse{Reply: reply, Messages: conv.Snapshot()}
}

func (h *Handler) export(ctx context.Context, raw string) (int, any) {
	var in exportRequest
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return invalid("invalid_json")
	}
	if len(in.Transcript) == 0 {
		return invalid("empty_transcript")
	}

	s := h.settings()
	cfg, err := s.ExportConfig(ctx, h.secrets)
	if err != nil {
		return failure(usecase.Classify("export_config", err))
	}
	res, err := h.exporter.ExportChatHistory(ctx, cfg, in.Transcript, s.ResolvedSystemPrompt())
	if err != nil {
		return failure(usecase.Classify("export_failed", err))
	}
	return http.StatusOK, exportResponse{Target: res.Target, DocumentID: res.DocumentID, Blocks: res.Blocks}
}

func invalid(reason string) (int, any) {
	return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: reason}
}

func failure(err *usecase.Error) (int, any) {
	body := errorResponse{Error: string(err.Code), Reason: err.Reason}
	// Configuration and protocol problems are actionable by the caller; other
	// upstream details stay in the logs.
	if (err.Code == usecase.ErrorConfiguration || err.Code == usecase.ErrorProtocol) && err.Err != nil {
		body.Message = err.Err.Error()
	}
	return statusFor(err.Code), body
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorConfiguration:
		return http.StatusBadRequest
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream, usecase.ErrorProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respond(correlationID string, status int, body any) events.APIGatewayProxyResponse {
	payload, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		payload = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(payload),
	}
}

// headerValue looks key up case-insensitively; API Gateway forwards client
// header casing as is.
func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
