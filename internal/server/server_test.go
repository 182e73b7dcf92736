package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"boards-wiql/internal/boards"
	"boards-wiql/internal/config"
	"boards-wiql/internal/errs"
	"boards-wiql/internal/output"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeGateway struct {
	lastQuery  boards.QueryRequest
	lastCreate boards.NewWorkItem
	result     boards.QueryResult
	queryErr   error
	created    boards.Created
	createErr  error
	panicOn    bool
}

func (f *fakeGateway) Query(ctx context.Context, req boards.QueryRequest) (boards.QueryResult, error) {
	if f.panicOn {
		panic("kaboom")
	}
	f.lastQuery = req
	return f.result, f.queryErr
}

func (f *fakeGateway) Create(ctx context.Context, req boards.NewWorkItem) (boards.Created, error) {
	f.lastCreate = req
	return f.created, f.createErr
}

func newTestRouter(gw Gateway, auth config.Auth) http.Handler {
	return NewRouter(&Handlers{Gateway: gw}, auth, zap.NewNop())
}

func do(t *testing.T, h http.Handler, method, path, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestQueryTable(t *testing.T) {
	gw := &fakeGateway{result: boards.QueryResult{
		Header: []string{"ID", "Title"},
		Rows:   [][]string{{"1", "first"}},
		Status: boards.StatusOK,
	}}
	rec := do(t, newTestRouter(gw, config.Auth{}), http.MethodPost, "/v1/wiql",
		`{"pat":"p","top":5,"parameters":{"excluded_states":["Done"],"value_filters":{"System.State":["Active"]}}}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Header().Get("X-Query-Status"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"header":["ID","Title"],"values":[["1","first"]]}`, rec.Body.String())
	assert.Equal(t, "p", gw.lastQuery.PAT)
	assert.Equal(t, 5, gw.lastQuery.Top)
	assert.Equal(t, []string{"Done"}, gw.lastQuery.Parameters.ExcludedStates)
	assert.Equal(t, []string{"Active"}, gw.lastQuery.Parameters.ValueFilters["System.State"])
}

func TestQueryText(t *testing.T) {
	gw := &fakeGateway{result: boards.QueryResult{Texts: []string{"ID: 1"}, Status: boards.StatusOK}}
	rec := do(t, newTestRouter(gw, config.Auth{}), http.MethodPost, "/v1/wiql", `{"format":"text","parameters":{}}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"work_items":["ID: 1"]}`, rec.Body.String())
}

func TestQueryDegradedIsOK(t *testing.T) {
	gw := &fakeGateway{result: boards.QueryResult{
		Header: []string{"ID"},
		Status: boards.StatusDegraded,
		Err:    errors.New("remote down"),
	}}
	rec := do(t, newTestRouter(gw, config.Auth{}), http.MethodPost, "/v1/wiql", `{"parameters":{}}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", rec.Header().Get("X-Query-Status"))
	assert.JSONEq(t, `{"header":["ID"],"values":[]}`, rec.Body.String())
}

func TestQueryValidationError(t *testing.T) {
	gw := &fakeGateway{queryErr: errs.New(errs.CodeInvalidArgs, "invalid field reference", []string{"bad ref"})}
	rec := do(t, newTestRouter(gw, config.Auth{}), http.MethodPost, "/v1/wiql", `{"parameters":{}}`, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var env output.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, errs.CodeInvalidArgs, env.Error.Code)
}

func TestInvalidJSON(t *testing.T) {
	rec := do(t, newTestRouter(&fakeGateway{}, config.Auth{}), http.MethodPost, "/v1/wiql", `{"parameters":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBodyTooLarge(t *testing.T) {
	body := `{"pat":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	rec := do(t, newTestRouter(&fakeGateway{}, config.Auth{}), http.MethodPost, "/v1/wiql", body, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCreate(t *testing.T) {
	gw := &fakeGateway{created: boards.Created{ID: 9, URL: "u", Indexed: true}}
	rec := do(t, newTestRouter(gw, config.Auth{}), http.MethodPost, "/v1/workitems",
		`{"project":"Other","work_item_type":"Bug","title":"t","parent_id":3,"fields":{"System.Tags":"x"},"index":true}`, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":9,"url":"u","indexed":true}`, rec.Body.String())
	assert.Equal(t, "Other", gw.lastCreate.Project)
	assert.Equal(t, "Bug", gw.lastCreate.WorkItemType)
	assert.Equal(t, 3, gw.lastCreate.ParentID)
	assert.True(t, gw.lastCreate.Index)
	assert.Equal(t, "x", gw.lastCreate.Fields["System.Tags"])
}

func TestCreateRemoteFailureIsBadGateway(t *testing.T) {
	gw := &fakeGateway{createErr: errs.HTTP(http.StatusBadRequest, "request failed with status 400", "TF401320")}
	rec := do(t, newTestRouter(gw, config.Auth{}), http.MethodPost, "/v1/workitems", `{"work_item_type":"Bug"}`, nil)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var env output.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, errs.CodeHTTPError, env.Error.Code)
}

func TestBasicAuth(t *testing.T) {
	router := newTestRouter(&fakeGateway{result: boards.QueryResult{Status: boards.StatusEmpty}}, config.Auth{Username: "svc", Password: "secret"})

	rec := do(t, router, http.MethodPost, "/v1/wiql", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Basic realm="boards"`, rec.Header().Get("WWW-Authenticate"))

	rec = do(t, router, http.MethodPost, "/v1/wiql", `{}`, func(r *http.Request) { r.SetBasicAuth("svc", "wrong") })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/wiql", `{}`, func(r *http.Request) { r.SetBasicAuth("svc", "secret") })
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "empty", rec.Header().Get("X-Query-Status"))

	rec = do(t, router, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	rec := do(t, newTestRouter(&fakeGateway{}, config.Auth{}), http.MethodGet, "/healthz", "", func(r *http.Request) {
		r.Header.Set(requestIDHeader, "abc")
	})
	assert.Equal(t, "abc", rec.Header().Get(requestIDHeader))
}

func TestPanicRecovered(t *testing.T) {
	rec := do(t, newTestRouter(&fakeGateway{panicOn: true}, config.Auth{}), http.MethodPost, "/v1/wiql", `{}`, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var env output.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, errs.CodeInternal, env.Error.Code)
}

func TestServeShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := New(ln.Addr().String(), newTestRouter(&fakeGateway{}, config.Auth{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv, ln, zap.NewNop()) }()

	transport := &http.Transport{DisableKeepAlives: true}
	client := &http.Client{Transport: transport}
	resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	transport.CloseIdleConnections()

	cancel()
	assert.NoError(t, <-done)
}
