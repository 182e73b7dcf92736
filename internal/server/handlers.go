// Package server exposes the query and create flows over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"boards-wiql/internal/boards"
	"boards-wiql/internal/errs"
	"boards-wiql/internal/output"
)

const maxRequestBodySize = 1 << 20

// Gateway is what the handlers need from the boards service.
type Gateway interface {
	Query(ctx context.Context, req boards.QueryRequest) (boards.QueryResult, error)
	Create(ctx context.Context, req boards.NewWorkItem) (boards.Created, error)
}

type Handlers struct {
	Gateway Gateway
	Log     *zap.Logger
}

type tableResponse struct {
	Header []string   `json:"header"`
	Values [][]string `json:"values"`
}

type textResponse struct {
	WorkItems []string `json:"work_items"`
}

// Query handles POST /v1/wiql
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[boards.QueryRequest](w, r)
	if !ok {
		return
	}
	result, err := h.Gateway.Query(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Status == boards.StatusDegraded {
		h.Log.Warn("query degraded", zap.String("request_id", RequestID(r.Context())), zap.Error(result.Err))
	}
	w.Header().Set("X-Query-Status", string(result.Status))
	if req.Format == boards.FormatText {
		writeJSON(w, http.StatusOK, textResponse{WorkItems: nonNil(result.Texts)})
		return
	}
	header := result.Header
	if header == nil {
		header = []string{}
	}
	values := result.Rows
	if values == nil {
		values = [][]string{}
	}
	writeJSON(w, http.StatusOK, tableResponse{Header: header, Values: values})
}

// CreateWorkItem handles POST /v1/workitems
func (h *Handlers) CreateWorkItem(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[boards.NewWorkItem](w, r)
	if !ok {
		return
	}
	created, err := h.Gateway.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Health handles GET /healthz
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorStatus(w, http.StatusRequestEntityTooLarge, errs.New(errs.CodeInvalidArgs, "request body too large", nil))
		} else {
			writeErrorStatus(w, http.StatusBadRequest, errs.New(errs.CodeInvalidArgs, "invalid request body", err.Error()))
		}
		return v, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorStatus(w, statusFor(err), err)
}

func writeErrorStatus(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, output.Envelope(err))
}

// statusFor maps error codes onto HTTP statuses. Any failure of the remote
// service is a bad gateway from the caller's point of view.
func statusFor(err error) int {
	appErr, ok := errs.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch appErr.Code {
	case errs.CodeInvalidArgs, errs.CodeConfigMissing:
		return http.StatusBadRequest
	case errs.CodeUnauthorized:
		return http.StatusUnauthorized
	case errs.CodeHTTPError, errs.CodeHTTPRetry:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
