package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bwoudt/jambonz-go/ingress/internal/hub"
	"github.com/bwoudt/jambonz-go/ingress/internal/metrics"
	"github.com/bwoudt/jambonz-go/ingress/internal/protocol"
	"github.com/bwoudt/jambonz-go/ingress/internal/session"
	"github.com/bwoudt/jambonz-go/ingress/internal/store"
	"github.com/bwoudt/jambonz-go/pkg/webhook"
)

type nopConn struct{}

func (nopConn) ID() string                         { return "c1" }
func (nopConn) Send(context.Context, []byte) error { return nil }

type fixture struct {
	srv      *Server
	registry *session.Registry
	journal  *store.SQLiteStore
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	journal, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	reg := session.NewRegistry()
	opts.Hub = hub.NewHub()
	opts.Registry = reg
	opts.Journal = journal
	opts.Metrics = metrics.New("test")
	return &fixture{srv: NewServer(opts), registry: reg, journal: journal}
}

func (f *fixture) addLiveCall(t *testing.T, callSid string) {
	t.Helper()
	msg, err := protocol.Decode([]byte(`{"type":"session:new","call_sid":"` + callSid + `","msgid":"m1","data":{"from":"+1"}}`))
	require.NoError(t, err)
	f.registry.Put(session.New(nopConn{}, msg, nil, nil))
}

func (f *fixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Options{})
	f.addLiveCall(t, "CA1")

	rec := f.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(0), body["connections"])
	assert.Equal(t, float64(1), body["sessions"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_connections_active")
}

func TestListCalls(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(http.MethodGet, "/internal/calls", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"calls":[]}`, rec.Body.String())

	f.addLiveCall(t, "CB")
	f.addLiveCall(t, "CA")
	rec = f.do(http.MethodGet, "/internal/calls", "", nil)
	assert.JSONEq(t, `{"count":2,"calls":["CA","CB"]}`, rec.Body.String())
}

func TestGetCall(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	rec := f.do(http.MethodGet, "/internal/calls/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.addLiveCall(t, "CA1")
	rec = f.do(http.MethodGet, "/internal/calls/CA1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var live CallResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &live))
	assert.True(t, live.Live)
	assert.Equal(t, "c1", live.ConnID)
	assert.Equal(t, "+1", live.Attributes["from"])

	require.NoError(t, f.journal.StartCall(ctx, &store.Call{CallSid: "CA2", ConnID: "c9", Path: "/hello-world", StartedAt: time.Now()}))
	require.NoError(t, f.journal.AddEvent(ctx, &store.Event{CallSid: "CA2", Kind: "session-new", Ts: time.Now()}))
	require.NoError(t, f.journal.EndCall(ctx, "CA2", "close", time.Now()))

	rec = f.do(http.MethodGet, "/internal/calls/CA2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist CallResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.False(t, hist.Live)
	require.NotNil(t, hist.Call)
	assert.Equal(t, "close", hist.Call.EndReason)
	require.Len(t, hist.Events, 1)
}

func TestHelloWorldWebhook(t *testing.T) {
	f := newFixture(t, Options{WebhookSecret: "s3cret"})
	body := `{"call_sid":"CA1","from":"+1","to":"+2"}`

	rec := f.do(http.MethodPost, "/hello-world", body, map[string]string{
		webhook.SignatureHeader: webhook.Sign("s3cret", []byte(body)),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var verbsOut []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verbsOut))
	require.Len(t, verbsOut, 3)
	assert.Equal(t, "say", verbsOut[0]["verb"])
	assert.Equal(t, "pause", verbsOut[1]["verb"])
	assert.Equal(t, 1.5, verbsOut[1]["length"])
	assert.Equal(t, "hangup", verbsOut[2]["verb"])

	rec = f.do(http.MethodPost, "/hello-world", body, map[string]string{webhook.SignatureHeader: "bad"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCallStatusWebhookBasicAuth(t *testing.T) {
	f := newFixture(t, Options{Username: "admin", Password: "pw"})
	body := `{"call_sid":"CA1","call_status":"completed"}`

	rec := f.do(http.MethodPost, "/call-status", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/call-status", strings.NewReader(body))
	req.SetBasicAuth("admin", "pw")
	out := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)

	req = httptest.NewRequest(http.MethodPost, "/call-status", strings.NewReader("not json"))
	req.SetBasicAuth("admin", "pw")
	out = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}
