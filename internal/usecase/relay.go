package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gemini-relay/internal/domain"
	"gemini-relay/internal/integrations/gemini"
)

const (
	// FallbackReply is sent when the upstream reply carries no text.
	FallbackReply = "응답을 생성할 수 없습니다."

	InvalidRequestMessage = "Invalid request format"

	tracerName = "gemini-relay/internal/usecase"
)

type Generator interface {
	GenerateContent(ctx context.Context, contents []domain.Content) ([]byte, error)
}

// LogRecorder appends a line to the relay's diagnostic log.
type LogRecorder interface {
	Record(ctx context.Context, line string)
}

type RelayService struct {
	llm     Generator
	logs    LogRecorder
	persona string
	tracer  trace.Tracer
}

// NewRelayService wires the pipeline. An empty persona selects the base
// variant, which forwards the utterance alone.
func NewRelayService(llm Generator, logs LogRecorder, persona string) (*RelayService, error) {
	if llm == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if logs == nil {
		return nil, errors.New("usecase: log recorder must not be nil")
	}
	return &RelayService{
		llm:     llm,
		logs:    logs,
		persona: persona,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Webhook runs validate → build prompt → call upstream → extract reply →
// build envelope. Failures are returned as *Error.
func (s *RelayService) Webhook(ctx context.Context, body []byte) (domain.SkillResponse, error) {
	ctx, span := s.tracer.Start(ctx, "relay.Webhook")
	defer span.End()

	out, err := s.webhook(ctx, body)
	if err != nil {
		var relayErr *Error
		if errors.As(err, &relayErr) {
			span.SetAttributes(attribute.String("relay.error_code", string(relayErr.Code)))
		}
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (s *RelayService) webhook(ctx context.Context, body []byte) (domain.SkillResponse, error) {
	s.record(ctx, "Received data: %s", compactBody(body))

	utterance, ok := extractUtterance(body)
	if !ok {
		s.logs.Record(ctx, InvalidRequestMessage)
		return domain.SkillResponse{}, newError(ErrorInvalidRequest, "missing_utterance", InvalidRequestMessage, nil)
	}
	s.record(ctx, "User Input: %s", utterance)

	raw, err := s.llm.GenerateContent(ctx, buildContents(s.persona, utterance))
	if err != nil {
		var statusErr *gemini.HTTPStatusError
		if errors.As(err, &statusErr) {
			s.record(ctx, "Gemini API Response: %s", statusErr.Body)
			msg := fmt.Sprintf("Gemini API Error: %d - %s", statusErr.StatusCode, statusErr.Body)
			s.logs.Record(ctx, msg)
			return domain.SkillResponse{}, newUpstreamError(statusErr.StatusCode, msg, err)
		}
		s.record(ctx, "Error occurred: %v", err)
		return domain.SkillResponse{}, newError(ErrorInternal, "gemini_request_failed", err.Error(), err)
	}
	s.record(ctx, "Gemini API Response: %s", raw)

	reply, found := gemini.FirstCandidateText(raw)
	if !found {
		reply = FallbackReply
	}
	s.record(ctx, "Gemini Response: %s", reply)

	return domain.NewSimpleTextResponse(reply), nil
}

func (s *RelayService) record(ctx context.Context, format string, args ...any) {
	s.logs.Record(ctx, fmt.Sprintf(format, args...))
}

// extractUtterance checks that body is a JSON object with
// userRequest.utterance. A string utterance is returned unquoted; any other
// JSON value is returned as its compact JSON text.
func extractUtterance(body []byte) (string, bool) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return "", false
	}
	var userRequest map[string]json.RawMessage
	if err := json.Unmarshal(root["userRequest"], &userRequest); err != nil {
		return "", false
	}
	raw, ok := userRequest["utterance"]
	if !ok {
		return "", false
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, true
	}
	return compactBody(raw), true
}

// compactBody renders a request body for the log: compact JSON when it
// parses, the trimmed raw text otherwise.
func compactBody(body []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return strings.TrimSpace(string(body))
	}
	return buf.String()
}
