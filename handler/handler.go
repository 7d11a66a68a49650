package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"gemini-relay/internal/domain"
	"gemini-relay/internal/logsink"
	"gemini-relay/internal/usecase"
)

const (
	HomeMessage         = "Gemini Chatbot is Running!"
	correlationIDHeader = "X-Correlation-Id"
	maxRequestBodyBytes = 1 << 20
)

type RelayUseCase interface {
	Webhook(ctx context.Context, body []byte) (domain.SkillResponse, error)
}

// LogStore is the relay log as seen by the HTTP layer.
type LogStore interface {
	Record(ctx context.Context, line string)
	ReadAll(ctx context.Context) (logsink.Contents, error)
}

type homeResponse struct {
	Message string `json:"message"`
}

type logsResponse struct {
	Logs logsink.Contents `json:"logs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves GET /, POST /webhook and GET /logs.
type Handler struct {
	uc   RelayUseCase
	logs LogStore
	mux  *http.ServeMux
}

func NewHandler(uc RelayUseCase, logs LogStore) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: relay use case must not be nil")
	}
	if logs == nil {
		return nil, errors.New("handler: log store must not be nil")
	}
	h := &Handler{uc: uc, logs: logs, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /{$}", h.home)
	h.mux.HandleFunc("POST /webhook", h.webhook)
	h.mux.HandleFunc("GET /logs", h.readLogs)
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	corrID := strings.TrimSpace(r.Header.Get(correlationIDHeader))
	if corrID == "" {
		corrID = newUUID()
	}
	w.Header().Set(correlationIDHeader, corrID)

	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if rec == http.ErrAbortHandler {
			panic(rec)
		}
		msg := fmt.Sprint(rec)
		h.logs.Record(r.Context(), "Error occurred: "+msg)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msg})
	}()

	h.mux.ServeHTTP(w, r)
}

func (h *Handler) home(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, homeResponse{Message: HomeMessage})
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		h.logs.Record(r.Context(), "Error occurred: "+err.Error())
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	out, err := h.uc.Webhook(r.Context(), body)
	if err != nil {
		status, msg := errorStatus(err)
		writeJSON(w, status, errorResponse{Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) readLogs(w http.ResponseWriter, r *http.Request) {
	contents, err := h.logs.ReadAll(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, errorResponse{Error: "Error reading logs: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, logsResponse{Logs: contents})
}

// errorStatus is the single translation point from pipeline errors to HTTP
// status and error text.
func errorStatus(err error) (int, string) {
	var relayErr *usecase.Error
	if !errors.As(err, &relayErr) {
		return http.StatusInternalServerError, err.Error()
	}
	msg := relayErr.Message
	if msg == "" {
		msg = relayErr.Error()
	}
	switch relayErr.Code {
	case usecase.ErrorInvalidRequest:
		return http.StatusBadRequest, msg
	case usecase.ErrorUpstream:
		if relayErr.Status >= 200 && relayErr.Status <= 599 {
			return relayErr.Status, msg
		}
		return http.StatusBadGateway, msg
	default:
		return http.StatusInternalServerError, msg
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		status = http.StatusInternalServerError
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(errorResponse{Error: err.Error()})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(bytes.TrimRight(buf.Bytes(), "\n"))
}

var newUUID = func() string {
	return uuid.NewString()
}
