package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	id     string
	status map[string]interface{}
}

func (c *fakeChannel) ID() string             { return c.id }
func (c *fakeChannel) GetStatus() interface{} { return c.status }

type fakeManager struct {
	channels  map[string]*fakeChannel
	capturing bool
}

func (m *fakeManager) GetChannel(id string) (Channel, bool) {
	ch, ok := m.channels[id]
	if !ok {
		return nil, false
	}
	return ch, true
}

func (m *fakeManager) ListChannels() []string {
	return []string{"cam0"}
}

func (m *fakeManager) GetAllStatuses() map[string]interface{} {
	out := make(map[string]interface{})
	for id, ch := range m.channels {
		out[id] = ch.status
	}
	return out
}

func (m *fakeManager) IsCapturing() bool { return m.capturing }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mgr := &fakeManager{
		capturing: true,
		channels: map[string]*fakeChannel{
			"cam0": {id: "cam0", status: map[string]interface{}{"drop_count": 3}},
		},
	}
	srv := NewServer(ServerConfig{
		Port:    0,
		Manager: mgr,
		Version: "test",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	code, body := getJSON(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "go-frame-grabber", body["service"])
	assert.Equal(t, true, body["capturing"])
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)

	code, body := getJSON(t, ts.URL+"/api/v1/status")
	require.Equal(t, http.StatusOK, code)
	channels, ok := body["channels"].(map[string]interface{})
	require.True(t, ok)
	cam, ok := channels["cam0"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 3, cam["drop_count"])
}

func TestChannelLookup(t *testing.T) {
	ts := newTestServer(t)

	code, body := getJSON(t, ts.URL+"/api/v1/channels")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []interface{}{"cam0"}, body["channels"])

	code, body = getJSON(t, ts.URL+"/api/v1/channels/cam0")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, body["drop_count"])

	code, _ = getJSON(t, ts.URL+"/api/v1/channels/cam9")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
