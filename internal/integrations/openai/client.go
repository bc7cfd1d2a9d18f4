// Package openai streams chat completions from OpenAI-compatible endpoints
// (OpenAI, Volcengine Ark, Aliyun DashScope compatible mode).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"chatbridge/internal/domain"
	"chatbridge/internal/logsink"
	"chatbridge/internal/transport"
)

// chatRequest is the minimal request shape for a streamed Chat Completions call.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// chatMessage carries either plain string content or a multi-part array.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type textPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type imagePart struct {
	Type     string   `json:"type"`
	ImageURL imageURL `json:"image_url"`
}

type imageURL struct {
	URL string `json:"url"`
}

// errorEnvelope is the error body most compatible backends return.
type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client is a focused OpenAI-compatible streaming client.
type Client struct {
	httpClient *http.Client
	sink       logsink.Sink
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithSink(sink logsink.Sink) Option {
	return func(c *Client) {
		c.sink = sink
	}
}

// NewClient creates a Client. Credentials and endpoint travel with each request.
func NewClient(opts ...Option) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	c.sink = logsink.OrNop(c.sink)
	return c
}

func chatURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/chat/completions"
}

// Stream opens a streamed completion for req.
func (c *Client) Stream(ctx context.Context, req domain.ResolvedRequest) (domain.DeltaStream, error) {
	if strings.TrimSpace(req.Credentials.APIKey) == "" {
		return nil, domain.ConfigError("API key is required")
	}
	if strings.TrimSpace(req.BaseURL) == "" {
		return nil, domain.ConfigError("base URL is required")
	}

	body := chatRequest{
		Model:    req.Model,
		Messages: buildMessages(req.SystemInstruction, req.History),
		Stream:   true,
	}
	url := chatURL(req.BaseURL)

	res, err := transport.New(c.httpClient, c.sink).Open(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    url,
		Headers: map[string]string{
			"Authorization": transport.Bearer(req.Credentials.APIKey),
			"Accept":        "text/event-stream",
		},
		Body: body,
		LogDetails: map[string]any{
			"headers": map[string]string{"Authorization": transport.Bearer(domain.RedactedKey(req.Credentials.APIKey))},
			"body":    body,
		},
	})
	if err != nil {
		return nil, c.mapError(err)
	}

	c.sink.Log(logsink.Response, fmt.Sprintf("HTTP %d OK - Stream starting", res.StatusCode), nil)
	return newStream(res.Body, c.sink), nil
}

// mapError turns a failed request into a transport error whose message
// prefers the backend's own error text over the bare status.
func (c *Client) mapError(err error) error {
	var se *transport.HTTPStatusError
	if !errors.As(err, &se) {
		return &domain.Error{Kind: domain.ErrorTransport, Message: "request failed", Err: err}
	}
	msg := http.StatusText(se.StatusCode)
	var env errorEnvelope
	if json.Unmarshal([]byte(se.Body), &env) == nil && env.Error != nil && env.Error.Message != "" {
		msg = env.Error.Message
	}
	return &domain.Error{
		Kind:    domain.ErrorTransport,
		Message: fmt.Sprintf("API error: %d %s", se.StatusCode, msg),
		Err:     se,
	}
}

func buildMessages(systemInstruction string, history []domain.Message) []chatMessage {
	messages := make([]chatMessage, 0, len(history)+1)
	messages = append(messages, chatMessage{Role: string(domain.RoleSystem), Content: systemInstruction})
	for _, m := range history {
		messages = append(messages, toChatMessage(m))
	}
	return messages
}

func toChatMessage(m domain.Message) chatMessage {
	if len(m.Attachments) == 0 {
		return chatMessage{Role: string(m.Role), Content: m.Content}
	}
	parts := make([]any, 0, len(m.Attachments)+1)
	parts = append(parts, textPart{Type: "text", Text: m.Content})
	for _, att := range m.Attachments {
		parts = append(parts, imagePart{
			Type:     "image_url",
			ImageURL: imageURL{URL: "data:" + att.MIMEType + ";base64," + att.Data},
		})
	}
	return chatMessage{Role: string(m.Role), Content: parts}
}
