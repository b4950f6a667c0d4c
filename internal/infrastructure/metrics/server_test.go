package metrics

import (
	"encoding/json"
	"errors"
	"kimchi_arb/internal/infrastructure/health"
	"kimchi_arb/pkg/logging"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Healthz(t *testing.T) {
	hm := health.NewHealthManager(nil)
	hm.Register("venue:upbit", func() error { return nil })
	s := NewServer(0, hm, nil, logging.NewNopLogger())

	rec := get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	hm.Register("risk_state", func() error { return errors.New("locked") })
	rec = get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status     string                   `json:"status"`
		Components []health.ComponentStatus `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
	require.Len(t, body.Components, 2)
	assert.Equal(t, "risk_state", body.Components[0].Name)
	assert.Equal(t, "locked", body.Components[0].Error)
}

func TestServer_Status(t *testing.T) {
	s := NewServer(0, nil, nil, logging.NewNopLogger())
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/status").Code)

	s = NewServer(0, nil, func() interface{} {
		return map[string]interface{}{"ticks": 3, "trading_enabled": true}
	}, logging.NewNopLogger())
	rec := get(t, s.Handler(), "/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ticks":3,"trading_enabled":true}`, rec.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	s := NewServer(0, nil, nil, logging.NewNopLogger())
	rec := get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
