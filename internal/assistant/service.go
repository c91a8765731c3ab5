package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/clinic-gateway/internal/forms"
)

// Service answers extraction requests, either from the chat model or, in demo
// mode, from the canned responses.
type Service struct {
	prompts *Prompts
	llm     Completer
	demo    bool
	logger  zerolog.Logger
}

// NewService creates a service. llm may be nil in demo mode.
func NewService(prompts *Prompts, llm Completer, demo bool, logger zerolog.Logger) *Service {
	return &Service{
		prompts: prompts,
		llm:     llm,
		demo:    demo,
		logger:  logger.With().Str("component", "assistant").Logger(),
	}
}

// Extract returns the structured object for transcript.
func (s *Service) Extract(ctx context.Context, transcript string, kind forms.Kind) (map[string]any, error) {
	if !kind.Known() {
		s.logger.Warn().Str("form_type", string(kind)).Msg("Unknown form type, using default extraction")
	}

	if s.demo {
		resp := s.prompts.DemoResponse(kind)
		s.logger.Info().Str("form_type", string(kind)).Msg("Demo mode, returning simulated response")
		return resp, nil
	}
	if s.llm == nil {
		return nil, fmt.Errorf("no language model configured")
	}

	content, err := s.llm.Complete(ctx, []Message{
		{Role: "system", Content: s.prompts.System},
		{Role: "user", Content: s.prompts.UserMessage(transcript, kind)},
	})
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	return ParseObject(content)
}

// ParseObject decodes a model reply that must be a single JSON object. A
// surrounding markdown code fence is tolerated.
func ParseObject(content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return nil, fmt.Errorf("model reply is not a JSON object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("model reply is null")
	}
	return obj, nil
}
