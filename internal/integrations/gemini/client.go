// Package gemini streams replies through the Gemini chat-session SDK.
package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"iter"
	"strings"
	"sync"

	"google.golang.org/genai"

	"chatbridge/internal/domain"
	"chatbridge/internal/logsink"
)

const (
	defaultModel = "gemini-3-flash-preview"

	roleUser  = "user"
	roleModel = "model"
)

// chatSession is the slice of *genai.Chat the provider drives.
type chatSession interface {
	SendMessageStream(ctx context.Context, parts ...genai.Part) iter.Seq2[*genai.GenerateContentResponse, error]
}

// sessionOpener creates a chat session seeded with prior turns.
type sessionOpener func(ctx context.Context, apiKey, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error)

func openSDKSession(ctx context.Context, apiKey, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	chat, err := client.Chats.Create(ctx, model, config, history)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// Client opens one chat session per generation.
type Client struct {
	open sessionOpener
	sink logsink.Sink
}

type Option func(*Client)

func WithSink(sink logsink.Sink) Option {
	return func(c *Client) {
		c.sink = sink
	}
}

func withSessionOpener(open sessionOpener) Option {
	return func(c *Client) {
		c.open = open
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{open: openSDKSession}
	for _, opt := range opts {
		opt(c)
	}
	c.sink = logsink.OrNop(c.sink)
	return c
}

// Stream seeds a session with every history message but the last, then sends
// the last one as the live turn.
func (c *Client) Stream(ctx context.Context, req domain.ResolvedRequest) (domain.DeltaStream, error) {
	if strings.TrimSpace(req.Credentials.APIKey) == "" {
		return nil, domain.ConfigError("Gemini API key is required")
	}
	if len(req.History) == 0 {
		return nil, domain.ConfigError("history must contain the message to send")
	}
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	c.sink.Log(logsink.Info, "Initializing Gemini Client", map[string]any{"model": model})

	prior := req.History[:len(req.History)-1]
	history := make([]*genai.Content, 0, len(prior))
	for _, m := range prior {
		parts, err := toParts(m)
		if err != nil {
			return nil, err
		}
		history = append(history, &genai.Content{Role: toRole(m.Role), Parts: parts})
	}

	live, err := toParts(req.History[len(req.History)-1])
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: req.SystemInstruction}}},
	}
	session, err := c.open(ctx, req.Credentials.APIKey, model, config, history)
	if err != nil {
		c.sink.Log(logsink.Error, "Gemini Request Failed", map[string]any{"message": err.Error()})
		return nil, &domain.Error{Kind: domain.ErrorTransport, Message: "open Gemini session", Err: err}
	}

	c.sink.Log(logsink.Request, "Sending Message to Gemini", map[string]any{
		"model":               model,
		"historyLength":       len(history),
		"currentMessageParts": len(live),
		"systemPrompt":        req.SystemInstruction,
	})

	values := make([]genai.Part, len(live))
	for i, p := range live {
		values[i] = *p
	}
	streamCtx, cancel := context.WithCancel(ctx)
	next, stop := iter.Pull2(session.SendMessageStream(streamCtx, values...))
	c.sink.Log(logsink.Info, "Stream started", nil)
	return &stream{next: next, stop: stop, cancel: cancel, sink: c.sink}, nil
}

// toRole maps user to "user" and every other role to "model".
func toRole(r domain.Role) string {
	if r == domain.RoleUser {
		return roleUser
	}
	return roleModel
}

// toParts emits one inline-data part per attachment followed by exactly one
// text part, even when the text is empty.
func toParts(m domain.Message) ([]*genai.Part, error) {
	parts := make([]*genai.Part, 0, len(m.Attachments)+1)
	for _, att := range m.Attachments {
		data, err := base64.StdEncoding.DecodeString(att.Data)
		if err != nil {
			return nil, domain.ConfigError("attachment %q is not valid base64: %v", att.Name, err)
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: att.MIMEType, Data: data}})
	}
	parts = append(parts, &genai.Part{Text: m.Content})
	return parts, nil
}

// stream adapts the SDK's push iterator into a pull-based DeltaStream.
//
// next and stop must not run concurrently, so both happen under mu. Close
// cancels the stream context first, which ends a read blocked in next.
type stream struct {
	mu     sync.Mutex
	next   func() (*genai.GenerateContentResponse, error, bool)
	stop   func()
	cancel context.CancelFunc
	sink   logsink.Sink
	err    error
}

func (s *stream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.err == nil {
		resp, err, ok := s.next()
		switch {
		case !ok:
			s.err = io.EOF
			s.sink.Log(logsink.Response, "Stream finished", nil)
			s.stop()
			s.cancel()
		case err != nil:
			s.err = &domain.Error{Kind: domain.ErrorTransport, Message: "Gemini stream failed", Err: err}
			s.sink.Log(logsink.Error, "Gemini Request Failed", map[string]any{"message": err.Error()})
			s.stop()
			s.cancel()
		case resp != nil:
			if text := resp.Text(); text != "" {
				return text, nil
			}
		}
	}
	return "", s.err
}

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("gemini: stream closed")

func (s *stream) Close() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = ErrStreamClosed
	}
	s.stop()
	return nil
}
