package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

func newTestServer(t *testing.T, status int, reply string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.auth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(ts.Close)
	return ts, rec
}

func TestCreateCall(t *testing.T) {
	ts, rec := newTestServer(t, http.StatusCreated, `{"sid":"CA1"}`)
	c := NewClient(ts.URL+"/", "key123", WithAccountSid("AC1"))

	call, err := c.CreateCall(context.Background(), &CreateCallRequest{
		From:           "+1234567890",
		To:             map[string]any{"type": "phone", "number": "+0987654321"},
		ApplicationSid: "app-1",
		Extra:          map[string]any{"timeout": 30},
	})
	require.NoError(t, err)
	assert.Equal(t, "CA1", call.Sid)
	assert.JSONEq(t, `{"sid":"CA1"}`, string(call.Raw))

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/v1/calls", rec.path)
	assert.Equal(t, "Bearer key123", rec.auth)
	assert.Equal(t, "+1234567890", rec.body["from"])
	assert.Equal(t, "app-1", rec.body["application_sid"])
	assert.Equal(t, float64(30), rec.body["timeout"])
	assert.Equal(t, "AC1", c.AccountSid())
}

func TestUpdateGetEndCall(t *testing.T) {
	ts, rec := newTestServer(t, http.StatusOK, `{"sid":"CA1","call_status":"in-progress"}`)
	c := NewClient(ts.URL, "k")
	ctx := context.Background()

	_, err := c.UpdateCall(ctx, "CA1", map[string]any{"call_status": "completed"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, rec.method)
	assert.Equal(t, "/v1/calls/CA1", rec.path)
	assert.Equal(t, "completed", rec.body["call_status"])

	call, err := c.GetCall(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, rec.method)
	assert.Equal(t, "in-progress", call.CallStatus)

	require.NoError(t, c.EndCall(ctx, "CA1"))
	assert.Equal(t, http.MethodDelete, rec.method)
}

func TestAPIError(t *testing.T) {
	ts, _ := newTestServer(t, http.StatusNotFound, `{"msg":"call not found"}`)
	c := NewClient(ts.URL, "k")

	_, err := c.GetCall(context.Background(), "nope")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "call not found")
	assert.Contains(t, err.Error(), "GET /v1/calls/nope")
}

func TestEmptySuccessBody(t *testing.T) {
	ts, _ := newTestServer(t, http.StatusNoContent, "")
	c := NewClient(ts.URL, "k")
	assert.NoError(t, c.EndCall(context.Background(), "CA1"))
}

func TestDefaultBaseURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, NewClient("", "k").baseURL)
}
