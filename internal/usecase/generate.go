package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"chatbridge/internal/domain"
	"chatbridge/internal/logsink"
)

// Provider streams one reply for a resolved request.
type Provider interface {
	Stream(ctx context.Context, req domain.ResolvedRequest) (domain.DeltaStream, error)
}

// ProviderSet dispatches a provider kind to its implementation.
type ProviderSet map[domain.ProviderKind]Provider

func (p ProviderSet) For(kind domain.ProviderKind) (Provider, error) {
	provider, ok := p[kind]
	if !ok || provider == nil {
		return nil, domain.ConfigError("provider %s not supported", kind)
	}
	return provider, nil
}

// TokenCounter estimates how many tokens a text costs.
type TokenCounter interface {
	Count(text string) int
}

// ErrAborted is reported when a caller aborts a generation.
var ErrAborted = errors.New("generation aborted")

// GenerationState is the lifecycle stage of one generation.
type GenerationState int

const (
	StateIdle GenerationState = iota
	StateAwaitingFirstDelta
	StateStreaming
	StateFinished
	StateFailed
)

func (s GenerationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFirstDelta:
		return "awaiting_first_delta"
	case StateStreaming:
		return "streaming"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Callbacks observe a generation. Exactly one of OnFinish or OnError fires.
// Callbacks run on the generation's goroutine.
type Callbacks struct {
	OnChunk  func(text string)
	OnFinish func()
	OnError  func(err error)
}

// GenerateInput is the already-resolved user turn plus the provider settings
// captured at send time.
type GenerateInput struct {
	Provider          domain.ProviderKind
	Credentials       domain.Credentials
	Model             string
	BaseURL           string
	SystemInstruction string
	Text              string
	Attachments       []domain.Attachment
}

// Orchestrator drives a provider and folds its deltas into a conversation.
type Orchestrator struct {
	providers ProviderSet
	sink      logsink.Sink
	tokens    TokenCounter
	now       func() time.Time
	newID     func() string
}

type OrchestratorOption func(*Orchestrator)

func WithGenerationSink(sink logsink.Sink) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

func WithTokenCounter(tc TokenCounter) OrchestratorOption {
	return func(o *Orchestrator) {
		o.tokens = tc
	}
}

func NewOrchestrator(providers ProviderSet, opts ...OrchestratorOption) (*Orchestrator, error) {
	if len(providers) == 0 {
		return nil, errors.New("usecase: at least one provider is required")
	}
	o := &Orchestrator{
		providers: providers,
		now:       time.Now,
		newID:     domain.NewMessageID,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.sink = logsink.OrNop(o.sink)
	return o, nil
}

// Generate appends the user message to conv, then streams the reply in the
// background. The caller must not start another generation on conv until the
// returned Generation is done.
func (o *Orchestrator) Generate(ctx context.Context, conv *domain.Conversation, in GenerateInput, cb Callbacks) *Generation {
	userMsg := domain.Message{
		ID:          o.newID(),
		Role:        domain.RoleUser,
		Content:     in.Text,
		Attachments: in.Attachments,
		Timestamp:   o.now(),
	}
	epoch, history := conv.AppendSnapshot(userMsg)

	req := domain.ResolvedRequest{
		Provider:          in.Provider,
		Credentials:       in.Credentials,
		Model:             in.Model,
		SystemInstruction: in.SystemInstruction,
		BaseURL:           strings.TrimSpace(in.BaseURL),
		History:           history,
	}

	ctx, cancel := context.WithCancel(ctx)
	g := &Generation{
		conv:        conv,
		epoch:       epoch,
		assistantID: o.newID(),
		model:       in.Model,
		state:       StateAwaitingFirstDelta,
		cb:          cb,
		sink:        o.sink,
		now:         o.now,
		done:        make(chan struct{}),
		cancel:      cancel,
	}
	go o.run(ctx, g, req)
	return g
}

// Complete runs one generation to its end and returns the assistant reply. A
// provider that finishes without any delta yields an empty reply.
func (o *Orchestrator) Complete(ctx context.Context, conv *domain.Conversation, in GenerateInput) (domain.Message, error) {
	g := o.Generate(ctx, conv, in, Callbacks{})
	if err := g.Wait(); err != nil {
		return domain.Message{}, err
	}
	for _, m := range conv.Snapshot() {
		if m.ID == g.AssistantID() {
			return m, nil
		}
	}
	return domain.Message{
		ID:        g.AssistantID(),
		Role:      domain.RoleAssistant,
		Timestamp: o.now(),
		Model:     in.Model,
	}, nil
}

func (o *Orchestrator) run(ctx context.Context, g *Generation, req domain.ResolvedRequest) {
	defer close(g.done)
	defer g.cancel()

	provider, err := o.providers.For(req.Provider)
	if err != nil {
		g.fail(err)
		return
	}

	details := map[string]any{
		"provider":      string(req.Provider),
		"model":         req.Model,
		"historyLength": len(req.History),
	}
	if o.tokens != nil {
		details["promptTokens"] = o.promptTokens(req)
	}
	o.sink.Log(logsink.Info, "Generation started", details)

	stream, err := provider.Stream(ctx, req)
	if err != nil {
		g.fail(abortedOr(ctx, err))
		return
	}
	defer func() { _ = stream.Close() }()

	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			g.finish()
			return
		}
		if err != nil {
			g.fail(abortedOr(ctx, err))
			return
		}
		g.deliver(delta)
	}
}

func (o *Orchestrator) promptTokens(req domain.ResolvedRequest) int {
	n := o.tokens.Count(req.SystemInstruction)
	for _, m := range req.History {
		n += o.tokens.Count(m.Content)
	}
	return n
}

func abortedOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	return err
}

// Generation is the handle of one in-flight reply.
type Generation struct {
	conv        *domain.Conversation
	epoch       uint64
	assistantID string
	model       string
	cb          Callbacks
	sink        logsink.Sink
	now         func() time.Time

	mu    sync.Mutex
	state GenerationState
	err   error

	done   chan struct{}
	cancel context.CancelFunc
}

// AssistantID is the correlation id of the reply message.
func (g *Generation) AssistantID() string {
	return g.assistantID
}

// State reports the current lifecycle stage.
func (g *Generation) State() GenerationState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Done is closed once the generation finished or failed.
func (g *Generation) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the generation ends and returns its error, if any.
func (g *Generation) Wait() error {
	<-g.done
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Abort stops consuming the stream; the generation then fails with ErrAborted.
func (g *Generation) Abort() {
	g.cancel()
}

// deliver folds one delta into the conversation. The first delta creates the
// assistant message; later ones append to it only while it is still the
// conversation's tail under the same correlation id.
func (g *Generation) deliver(delta string) {
	g.mu.Lock()
	switch g.state {
	case StateAwaitingFirstDelta:
		msg := domain.Message{
			ID:        g.assistantID,
			Role:      domain.RoleAssistant,
			Content:   delta,
			Timestamp: g.now(),
			Model:     g.model,
		}
		if !g.conv.AppendIfEpoch(g.epoch, msg) {
			g.mu.Unlock()
			return
		}
		g.state = StateStreaming
	case StateStreaming:
		if !g.conv.AppendDelta(g.assistantID, delta) {
			g.mu.Unlock()
			return
		}
	default:
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	if g.cb.OnChunk != nil {
		g.cb.OnChunk(delta)
	}
}

func (g *Generation) finish() {
	g.mu.Lock()
	if g.terminal() {
		g.mu.Unlock()
		return
	}
	g.state = StateFinished
	g.conv.Finalize(g.assistantID)
	g.mu.Unlock()

	g.sink.Log(logsink.Info, "Generation finished", map[string]any{"messageId": g.assistantID})
	if g.cb.OnFinish != nil {
		g.cb.OnFinish()
	}
}

// fail records err as a system message. Text already streamed stays as is.
func (g *Generation) fail(err error) {
	g.mu.Lock()
	if g.terminal() {
		g.mu.Unlock()
		return
	}
	g.state = StateFailed
	g.err = err
	g.conv.Finalize(g.assistantID)
	g.conv.AppendIfEpoch(g.epoch, domain.Message{
		ID:        domain.NewMessageID(),
		Role:      domain.RoleSystem,
		Content:   "Error: " + err.Error(),
		Timestamp: g.now(),
	})
	g.mu.Unlock()

	g.sink.Log(logsink.Error, "Generation Failed", map[string]any{"message": err.Error()})
	if g.cb.OnError != nil {
		g.cb.OnError(err)
	}
}

func (g *Generation) terminal() bool {
	return g.state == StateFinished || g.state == StateFailed
}
