package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/labteral/stopover/internal/broker"
	"github.com/labteral/stopover/internal/config"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Global: config.GlobalConfig{
			DataDir:           t.TempDir(),
			Partitions:        2,
			RebalanceInterval: 3600,
			PruneInterval:     3600,
			ReceiverTimeout:   60,
		},
	}
	b := broker.New(cfg, zap.NewNop(), prometheus.NewRegistry())
	return NewServer(b, zap.NewNop(), prometheus.NewRegistry(), 0)
}

func postJSON(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnvelopeKnock(t *testing.T) {
	s := testServer(t)

	w := postJSON(t, s, `{"method":"knock","params":{"receiver_group":"workers","receiver":"r1"}}`)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "r1", resp["receiver"])
	assert.EqualValues(t, 20, resp["status"])
}

func TestEnvelopePutThenGetMessage(t *testing.T) {
	s := testServer(t)

	put := postJSON(t, s, `{"method":"put_message","params":{"stream":"orders","value":"hello"}}`)
	assert.Equal(t, http.StatusOK, put.Code)

	var putResp map[string]any
	require.NoError(t, json.Unmarshal(put.Body.Bytes(), &putResp))
	assert.EqualValues(t, 0, putResp["index"])

	knockResp := postJSON(t, s, `{"method":"knock","params":{"receiver_group":"workers","receiver":"r1"}}`)
	assert.Equal(t, http.StatusOK, knockResp.Code)

	getPartitionsResp := postJSON(t, s, `{"method":"get_partitions","params":{"stream":"orders","receiver_group":"workers","receiver":"r1"}}`)
	assert.Equal(t, http.StatusOK, getPartitionsResp.Code)

	require.NoError(t, s.broker.RebalanceNow())

	get := postJSON(t, s, `{"method":"get_message","params":{"stream":"orders","receiver_group":"workers","receiver":"r1"}}`)
	assert.Equal(t, http.StatusOK, get.Code)

	var getResp map[string]any
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &getResp))
	assert.Equal(t, "hello", getResp["value"])
}

func TestEnvelopeUnknownMethodReturns400(t *testing.T) {
	s := testServer(t)

	w := postJSON(t, s, `{"method":"does_not_exist","params":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnvelopeMalformedBodyReturns400(t *testing.T) {
	s := testServer(t)

	w := postJSON(t, s, `not json and not snappy either`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnvelopeMissingParamReturns400(t *testing.T) {
	s := testServer(t)

	w := postJSON(t, s, `{"method":"put_message","params":{"stream":"orders"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestEnvelopeOutOfOrderCommitReturnsErrorStatus(t *testing.T) {
	s := testServer(t)

	put := postJSON(t, s, `{"method":"put_message","params":{"stream":"orders","value":"hello","partition":0}}`)
	require.Equal(t, http.StatusOK, put.Code)

	w := postJSON(t, s, `{"method":"commit_message","params":{"stream":"orders","partition":0,"index":5,"receiver_group":"workers"}}`)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 50, resp["status"])
	assert.Contains(t, resp["error"], "expected")
}
