package openai

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"

	"chatbridge/internal/domain"
	"chatbridge/internal/logsink"
)

var (
	dataPrefix   = []byte("data:")
	doneSentinel = []byte("[DONE]")
)

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("openai: stream closed")

// chatCompletionChunk is the subset of a streamed chunk we read.
type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// stream reads server-sent event frames one line at a time.
type stream struct {
	body   io.ReadCloser
	r      *bufio.Reader
	sink   logsink.Sink
	err    error
	closed atomic.Bool
}

func newStream(body io.ReadCloser, sink logsink.Sink) *stream {
	return &stream{
		body: body,
		r:    bufio.NewReaderSize(body, 64*1024),
		sink: logsink.OrNop(sink),
	}
}

func (s *stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.body.Close()
}

func (s *stream) Recv() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	for {
		line, readErr := s.r.ReadBytes('\n')
		delta, ok := s.parseFrame(line)
		if readErr != nil {
			s.finish(readErr)
			if ok {
				return delta, nil
			}
			return "", s.err
		}
		if ok {
			return delta, nil
		}
	}
}

func (s *stream) finish(readErr error) {
	switch {
	case s.closed.Load():
		s.err = ErrStreamClosed
	case errors.Is(readErr, io.EOF):
		s.err = io.EOF
		s.sink.Log(logsink.Info, "Stream finished successfully", nil)
		_ = s.Close()
	default:
		s.err = &domain.Error{Kind: domain.ErrorTransport, Message: "stream interrupted", Err: readErr}
		s.sink.Log(logsink.Error, "Request Failed", map[string]any{"message": readErr.Error()})
		_ = s.Close()
	}
}

// parseFrame extracts the delta text of one line. Lines that are not data
// frames, the [DONE] sentinel and frames without content yield ok=false.
// Undecodable frames are logged and skipped.
func (s *stream) parseFrame(line []byte) (string, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(line, dataPrefix) {
		return "", false
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if bytes.Equal(payload, doneSentinel) {
		return "", false
	}

	var chunk chatCompletionChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		decodeErr := &domain.Error{Kind: domain.ErrorStreamDecode, Message: "error parsing chunk", Err: err}
		s.sink.Log(logsink.Error, "Error parsing chunk", map[string]any{
			"message": decodeErr.Error(),
			"frame":   string(payload),
		})
		return "", false
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return "", false
	}
	return chunk.Choices[0].Delta.Content, true
}
