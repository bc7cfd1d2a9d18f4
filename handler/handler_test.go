package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"chatbridge/internal/config"
	"chatbridge/internal/domain"
	"chatbridge/internal/prompt"
	"chatbridge/internal/transport"
	"chatbridge/internal/usecase"
)

type stubReplier struct {
	reply   domain.Message
	err     error
	in      usecase.GenerateInput
	history []domain.Message
}

func (s *stubReplier) Complete(_ context.Context, conv *domain.Conversation, in usecase.GenerateInput) (domain.Message, error) {
	s.in = in
	s.history = conv.Snapshot()
	if s.err != nil {
		return domain.Message{}, s.err
	}
	conv.Append(s.reply)
	return s.reply, nil
}

type stubExporter struct {
	res    domain.ExportResult
	err    error
	cfg    domain.ExportConfig
	prompt string
	n      int
}

func (s *stubExporter) ExportChatHistory(_ context.Context, cfg domain.ExportConfig, transcript []domain.Message, systemPrompt string) (domain.ExportResult, error) {
	s.cfg = cfg
	s.prompt = systemPrompt
	s.n = len(transcript)
	return s.res, s.err
}

func testSettings() config.Settings {
	return config.Settings{
		CurrentProvider: "openai",
		SystemPrompt: config.SystemPrompt{
			Template:  "Use {tone} tone.",
			Arguments: []prompt.Argument{{Key: "tone", Value: "calm"}},
		},
		UserPrompt: config.UserPrompt{Template: "{message}"},
		Providers: map[string]config.ProviderSettings{
			"openai": {APIKey: "sk-test"},
		},
		Export: domain.ExportConfig{
			Target: "notion",
			Notion: domain.NotionCredentials{Token: "secret", DatabaseID: "db"},
		},
	}
}

func newTestHandler(t *testing.T, r *stubReplier, e *stubExporter) *Handler {
	t.Helper()
	h, err := NewHandler(r, e, testSettings, nil)
	require.NoError(t, err)
	return h
}

func makeEvent(path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, &stubExporter{}, testSettings, nil)
	require.Error(t, err)
	_, err = NewHandler(&stubReplier{}, nil, testSettings, nil)
	require.Error(t, err)
	_, err = NewHandler(&stubReplier{}, &stubExporter{}, nil, nil)
	require.Error(t, err)
}

func TestGenerate_HappyPath(t *testing.T) {
	r := &stubReplier{reply: domain.Message{ID: "a1", Role: domain.RoleAssistant, Content: "hello"}}
	h := newTestHandler(t, r, &stubExporter{})

	resp, err := h.Handle(context.Background(), makeEvent("/generate",
		`{"history":[{"id":"u0","role":"user","content":"earlier"}],"message":"What is new?"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])

	require.Equal(t, domain.ProviderOpenAI, r.in.Provider)
	require.Equal(t, "sk-test", r.in.Credentials.APIKey)
	require.Equal(t, "gpt-4o", r.in.Model)
	require.Equal(t, "Use calm tone.", r.in.SystemInstruction)
	require.Equal(t, "What is new?", r.in.Text)
	require.Len(t, r.history, 1)

	out := parseBody[generateResponse](t, resp.Body)
	require.Equal(t, "hello", out.Reply.Content)
	require.Len(t, out.Messages, 2)
}

func TestGenerate_InvalidBody(t *testing.T) {
	h := newTestHandler(t, &stubReplier{}, &stubExporter{})

	for _, body := range []string{`not-json`, `{"message":"   "}`} {
		resp, err := h.Handle(context.Background(), makeEvent("/generate", body))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		out := parseBody[errorResponse](t, resp.Body)
		require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
	}
}

func TestGenerate_MapsErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "configuration", err: domain.ConfigError("Base URL is missing"), status: http.StatusBadRequest, code: string(usecase.ErrorConfiguration)},
		{name: "rate limited", err: domain.TransportError("", &transport.HTTPStatusError{StatusCode: 429}), status: http.StatusTooManyRequests, code: string(usecase.ErrorRateLimited)},
		{name: "upstream", err: domain.TransportError("", errors.New("reset")), status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "protocol", err: domain.ProtocolError("create_page", "no id"), status: http.StatusBadGateway, code: string(usecase.ErrorProtocol)},
		{name: "usecase error", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "too_long"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubReplier{err: tc.err}, &stubExporter{})

			resp, err := h.Handle(context.Background(), makeEvent("/generate", `{"message":"hi"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
		})
	}
}

func TestGenerate_UnknownProviderIsConfigurationError(t *testing.T) {
	settings := func() config.Settings {
		s := testSettings()
		s.CurrentProvider = "nope"
		return s
	}
	h, err := NewHandler(&stubReplier{}, &stubExporter{}, settings, nil)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent("/generate", `{"message":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorConfiguration), out.Error)
	require.Contains(t, out.Message, "unknown provider")
}

func TestExport_HappyPath(t *testing.T) {
	e := &stubExporter{res: domain.ExportResult{Target: domain.ExportNotion, DocumentID: "page-1", Blocks: 3}}
	h := newTestHandler(t, &stubReplier{}, e)

	resp, err := h.Handle(context.Background(), makeEvent("/export/",
		`{"transcript":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, domain.ExportNotion, e.cfg.Target)
	require.Equal(t, "Use calm tone.", e.prompt)
	require.Equal(t, 2, e.n)

	out := parseBody[exportResponse](t, resp.Body)
	require.Equal(t, "page-1", out.DocumentID)
}

func TestExport_EmptyTranscript(t *testing.T) {
	h := newTestHandler(t, &stubReplier{}, &stubExporter{})
	resp, err := h.Handle(context.Background(), makeEvent("/export", `{"transcript":[]}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExport_StageFailure(t *testing.T) {
	e := &stubExporter{err: domain.TransportError("auth", &transport.HTTPStatusError{StatusCode: 400})}
	h := newTestHandler(t, &stubReplier{}, e)

	resp, err := h.Handle(context.Background(), makeEvent("/export", `{"transcript":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, "export_failed", out.Reason)
}

func TestHandle_RoutingAndMethod(t *testing.T) {
	h := newTestHandler(t, &stubReplier{}, &stubExporter{})

	resp, err := h.Handle(context.Background(), makeEvent("/nope", `{}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	event := makeEvent("/generate", `{}`)
	event.HTTPMethod = http.MethodGet
	resp, err = h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubReplier{reply: domain.Message{Content: "ok"}}, &stubExporter{})

	event := makeEvent("/generate", `{"message":"hi"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}
