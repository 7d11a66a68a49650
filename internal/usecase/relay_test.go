package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"gemini-relay/internal/domain"
	"gemini-relay/internal/integrations/gemini"
)

type mockGenerator struct {
	raw       string
	err       error
	calls     int
	contents  [][]domain.Content
	contentMu sync.Mutex
}

func (m *mockGenerator) GenerateContent(_ context.Context, contents []domain.Content) ([]byte, error) {
	m.contentMu.Lock()
	defer m.contentMu.Unlock()
	m.calls++
	m.contents = append(m.contents, contents)
	if m.err != nil {
		return nil, m.err
	}
	return []byte(m.raw), nil
}

type memLog struct {
	mu    sync.Mutex
	lines []string
}

func (m *memLog) Record(_ context.Context, line string) {
	m.mu.Lock()
	m.lines = append(m.lines, line)
	m.mu.Unlock()
}

func replyBody(text string) string {
	raw, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{map[string]any{"text": text}}},
		}},
	})
	return string(raw)
}

func newTestService(t *testing.T, llm Generator, logs LogRecorder, persona string) *RelayService {
	t.Helper()
	svc, err := NewRelayService(llm, logs, persona)
	require.NoError(t, err)
	return svc
}

func expectRelayError(t *testing.T, err error, code ErrorCode, reason string) *Error {
	t.Helper()
	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	require.Equal(t, code, relayErr.Code)
	require.Equal(t, reason, relayErr.Reason)
	return relayErr
}

func TestNewRelayService_ValidatesDependencies(t *testing.T) {
	_, err := NewRelayService(nil, &memLog{}, "")
	require.Error(t, err)

	_, err = NewRelayService(&mockGenerator{}, nil, "")
	require.Error(t, err)
}

func TestWebhook_HappyPath(t *testing.T) {
	llm := &mockGenerator{raw: replyBody("안녕하세요")}
	logs := &memLog{}
	svc := newTestService(t, llm, logs, "")

	out, err := svc.Webhook(context.Background(), []byte(`{"userRequest":{"utterance":"안녕"}}`))
	require.NoError(t, err)

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	require.JSONEq(t, `{"version":"2.0","template":{"outputs":[{"simpleText":{"text":"안녕하세요"}}]}}`, string(raw))

	require.Equal(t, 1, llm.calls)
	require.Equal(t, []domain.Content{domain.TextContent("안녕")}, llm.contents[0])
	require.Equal(t, []string{
		`Received data: {"userRequest":{"utterance":"안녕"}}`,
		"User Input: 안녕",
		"Gemini API Response: " + replyBody("안녕하세요"),
		"Gemini Response: 안녕하세요",
	}, logs.lines)
}

func TestWebhook_IgnoresExtraEnvelopeFields(t *testing.T) {
	llm := &mockGenerator{raw: replyBody("ok")}
	svc := newTestService(t, llm, &memLog{}, "")

	body := `{"intent":{"id":"x"},"userRequest":{"timezone":"Asia/Seoul","utterance":"포인트 신청 기간?","user":{"id":"u1"}},"bot":{"id":"b"}}`
	_, err := svc.Webhook(context.Background(), []byte(body))
	require.NoError(t, err)
	require.Equal(t, "포인트 신청 기간?", llm.contents[0][0].Parts[0].Text)
}

func TestWebhook_InvalidRequest_NoUpstreamCall(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "empty object", body: `{}`},
		{name: "missing utterance", body: `{"userRequest":{"user":{"id":"u1"}}}`},
		{name: "null userRequest", body: `{"userRequest":null}`},
		{name: "string userRequest", body: `{"userRequest":"utterance"}`},
		{name: "array root", body: `[{"userRequest":{"utterance":"hi"}}]`},
		{name: "null root", body: `null`},
		{name: "not json", body: `not-json`},
		{name: "empty body", body: ``},
		{name: "top-level utterance", body: `{"utterance":"hi"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			llm := &mockGenerator{raw: replyBody("unused")}
			logs := &memLog{}
			svc := newTestService(t, llm, logs, DefaultPersona())

			_, err := svc.Webhook(context.Background(), []byte(tc.body))
			relayErr := expectRelayError(t, err, ErrorInvalidRequest, "missing_utterance")
			require.Equal(t, "Invalid request format", relayErr.Message)
			require.Zero(t, llm.calls)
			require.Contains(t, logs.lines, "Invalid request format")
		})
	}
}

func TestWebhook_NonStringUtteranceIsForwardedAsJSON(t *testing.T) {
	llm := &mockGenerator{raw: replyBody("ok")}
	svc := newTestService(t, llm, &memLog{}, "")

	_, err := svc.Webhook(context.Background(), []byte(`{"userRequest":{"utterance": 42}}`))
	require.NoError(t, err)
	require.Equal(t, "42", llm.contents[0][0].Parts[0].Text)
}

func TestWebhook_PersonaIsFirstAndStable(t *testing.T) {
	llm := &mockGenerator{raw: replyBody("ok")}
	persona := DefaultPersona()
	svc := newTestService(t, llm, &memLog{}, persona)

	for _, u := range []string{"첫 질문", "두 번째 질문", ""} {
		body, err := json.Marshal(map[string]any{"userRequest": map[string]any{"utterance": u}})
		require.NoError(t, err)
		_, err = svc.Webhook(context.Background(), body)
		require.NoError(t, err)
	}

	require.Len(t, llm.contents, 3)
	for i, want := range []string{"첫 질문", "두 번째 질문", ""} {
		contents := llm.contents[i]
		require.Len(t, contents, 2)
		require.Equal(t, persona, contents[0].Parts[0].Text)
		require.Equal(t, want, contents[len(contents)-1].Parts[0].Text)
	}
}

func TestWebhook_UpstreamStatusError(t *testing.T) {
	upstreamBody := `{"error":{"code":429,"message":"Resource has been exhausted"}}`
	llm := &mockGenerator{err: &gemini.HTTPStatusError{StatusCode: http.StatusTooManyRequests, Body: upstreamBody}}
	logs := &memLog{}
	svc := newTestService(t, llm, logs, "")

	_, err := svc.Webhook(context.Background(), []byte(`{"userRequest":{"utterance":"hi"}}`))
	relayErr := expectRelayError(t, err, ErrorUpstream, "gemini_status")
	require.Equal(t, http.StatusTooManyRequests, relayErr.Status)
	require.Equal(t, "Gemini API Error: 429 - "+upstreamBody, relayErr.Message)
	require.Contains(t, logs.lines, "Gemini API Response: "+upstreamBody)
	require.Contains(t, logs.lines, "Gemini API Error: 429 - "+upstreamBody)
}

func TestWebhook_TransportErrorIsInternal(t *testing.T) {
	llm := &mockGenerator{err: errors.New("gemini: request failed: connection refused")}
	logs := &memLog{}
	svc := newTestService(t, llm, logs, "")

	_, err := svc.Webhook(context.Background(), []byte(`{"userRequest":{"utterance":"hi"}}`))
	relayErr := expectRelayError(t, err, ErrorInternal, "gemini_request_failed")
	require.Equal(t, "gemini: request failed: connection refused", relayErr.Message)
	require.Contains(t, logs.lines, "Error occurred: gemini: request failed: connection refused")
}

func TestWebhook_MissingReplyTextFallsBack(t *testing.T) {
	for _, raw := range []string{`{}`, `{"candidates":[]}`, `{"candidates":[{"content":{"parts":[]}}]}`, `not-json`} {
		t.Run(raw, func(t *testing.T) {
			llm := &mockGenerator{raw: raw}
			logs := &memLog{}
			svc := newTestService(t, llm, logs, "")

			out, err := svc.Webhook(context.Background(), []byte(`{"userRequest":{"utterance":"hi"}}`))
			require.NoError(t, err)
			require.Equal(t, domain.NewSimpleTextResponse(FallbackReply), out)
			require.Contains(t, logs.lines, "Gemini Response: "+FallbackReply)
		})
	}
}

func TestWebhook_LogGrowsPerRequest(t *testing.T) {
	llm := &mockGenerator{raw: replyBody("ok")}
	logs := &memLog{}
	svc := newTestService(t, llm, logs, "")

	prev := 0
	for i := 0; i < 3; i++ {
		_, _ = svc.Webhook(context.Background(), []byte(`{"userRequest":{"utterance":"hi"}}`))
		require.Greater(t, len(logs.lines), prev)
		prev = len(logs.lines)
	}
}

func TestError_Format(t *testing.T) {
	err := newError(ErrorInvalidRequest, "missing_utterance", "Invalid request format", nil)
	require.Equal(t, "usecase: INVALID_REQUEST (missing_utterance): Invalid request format", err.Error())
	require.Nil(t, err.Unwrap())

	cause := errors.New("boom")
	err = newError(ErrorInternal, "x", "boom", cause)
	require.ErrorIs(t, err, cause)

	var nilErr *Error
	require.Equal(t, "", nilErr.Error())
	require.Nil(t, nilErr.Unwrap())
}

func TestDefaultPersona_IncludesRules(t *testing.T) {
	content := DefaultPersona()
	require.Contains(t, content, "복리후생")
	require.Contains(t, content, "200자 이내")
	require.Contains(t, content, "이모지")
	require.Contains(t, content, OutOfScopeReply)
	require.Contains(t, content, "benefits@example.com")
	require.Equal(t, content, DefaultPersona())
}

func TestBuildContents(t *testing.T) {
	require.Equal(t, []domain.Content{domain.TextContent("hi")}, buildContents("", "hi"))
	require.Equal(t, []domain.Content{domain.TextContent("hi")}, buildContents("  \n", "hi"))
	require.Equal(t, []domain.Content{domain.TextContent("p"), domain.TextContent("hi")}, buildContents("p", "hi"))
}

func TestExtractUtterance(t *testing.T) {
	got, ok := extractUtterance([]byte(`{"userRequest":{"utterance":"  spaced  "}}`))
	require.True(t, ok)
	require.Equal(t, "  spaced  ", got)

	got, ok = extractUtterance([]byte(`{"userRequest":{"utterance":{"a": [1, 2]}}}`))
	require.True(t, ok)
	require.Equal(t, `{"a":[1,2]}`, got)

	_, ok = extractUtterance([]byte(`{"userRequest":{}}`))
	require.False(t, ok)
}

func TestCompactBody(t *testing.T) {
	require.Equal(t, `{"a":"안녕"}`, compactBody([]byte("{ \"a\" : \"안녕\" }\n")))
	require.Equal(t, "not-json", compactBody([]byte(" not-json \n")))
	require.True(t, strings.HasPrefix(compactBody([]byte(`{"x":1}`)), "{"))
}
