package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/mwestphal/securechat/internal/model/chat"
)

// Relay executes single model calls and exposes their output as an ordered
// fragment stream plus a final assembled message.
type Relay struct {
	cm   model.BaseChatModel
	pace time.Duration
}

// New wraps a chat model. pace is the minimum interval between delivered
// fragments, a presentation affordance to keep streaming visibly
// incremental; zero disables it.
func New(cm model.BaseChatModel, pace time.Duration) *Relay {
	return &Relay{cm: cm, pace: pace}
}

// Execute starts one model call over the full message sequence, the
// just-appended user prompt included. The returned stream must be consumed
// and closed by the caller.
func (r *Relay) Execute(ctx context.Context, modelName string, temperature float32, messages []chat.Message) (*Stream, error) {
	in := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			in = append(in, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			in = append(in, schema.AssistantMessage(msg.Content, nil))
		}
	}

	opts := []model.Option{model.WithTemperature(temperature)}
	if modelName != "" {
		opts = append(opts, model.WithModel(modelName))
	}

	src, err := r.cm.Stream(ctx, in, opts...)
	if err != nil {
		return nil, fmt.Errorf("start model stream: %w", err)
	}
	return &Stream{ctx: ctx, src: src, pace: r.pace}, nil
}

// Stream is a lazy, finite, non-restartable fragment sequence over one model
// call. Fragments arrive in backend emission order.
type Stream struct {
	ctx   context.Context
	src   *schema.StreamReader[*schema.Message]
	pace  time.Duration
	parts []string
	done  bool
}

// Recv returns the next non-empty fragment. It returns io.EOF once the
// backend finishes normally; any other error means the stream terminated
// abnormally and no final message is available.
func (s *Stream) Recv() (string, error) {
	for {
		chunk, err := s.src.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("receive model chunk: %w", err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		if s.pace > 0 && len(s.parts) > 0 {
			select {
			case <-s.ctx.Done():
				return "", s.ctx.Err()
			case <-time.After(s.pace):
			}
		}

		s.parts = append(s.parts, chunk.Content)
		return chunk.Content, nil
	}
}

// Final returns the assembled message, the fragments joined with a single
// space between each pair. It reports false until Recv has returned io.EOF.
func (s *Stream) Final() (string, bool) {
	if !s.done {
		return "", false
	}
	return strings.Join(s.parts, " "), true
}

// Close releases the underlying model stream.
func (s *Stream) Close() {
	s.src.Close()
}
