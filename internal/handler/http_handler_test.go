package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/memdb/internal/handler"
	"github.com/devrev/memdb/internal/service"
	"github.com/devrev/memdb/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()

	st := store.NewMemoryStore()
	engine := service.NewEngine(
		&service.EngineConfig{FlushInterval: time.Hour, EvictInterval: time.Hour},
		st, nil, zap.NewNop(),
	)

	mux := http.NewServeMux()
	handler.NewAPIHandler(engine, zap.NewNop()).Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, st
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestAPI_PutGetRoundtrip(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/tables/users/records/a", `{"n":"A"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/tables/users/records/a", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "A", body["n"])
}

func TestAPI_GetMissing(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/tables/users/records/ghost", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestAPI_PutRejectsNonObject(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/tables/users/records/a", `"not an object"`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_FlushAndStats(t *testing.T) {
	srv, st := newTestServer(t)

	doJSON(t, http.MethodPut, srv.URL+"/tables/users/records/a", `{"n":"A"}`)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/stats", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["dirty_records"])

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/flush", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["flushed"])
	assert.NotNil(t, st.Stored("users", "a"))

	_, body = doJSON(t, http.MethodGet, srv.URL+"/stats", "")
	assert.Equal(t, float64(0), body["dirty_records"])
}

func TestAPI_CreateTableAndQuery(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/tables", `{"name":"calls","schema":{"status":"string"}}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	doJSON(t, http.MethodPut, srv.URL+"/tables/calls/records/c1", `{"status":"active"}`)
	doJSON(t, http.MethodPost, srv.URL+"/flush", "")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/tables/calls/query", `{"limit":10}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])
}

func TestAPI_Evict(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/evict", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["evicted"])
}

func TestAPI_InvalidTableName(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/tables/bad-name/records/a", `{"n":"A"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
