// internal/transport/transport_test.go
package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"linkdispatch/internal/config"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
)

func testCfg() config.Config {
	return config.Config{
		SDKKey:      "key_test_123",
		HTTPTimeout: 2 * time.Second,
	}
}

func TestGetAppendsSDKVersion(t *testing.T) {
	var gotSDK, gotFoo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSDK = r.URL.Query().Get("sdk")
		gotFoo = r.URL.Query().Get("foo")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := NewHTTP(testCfg())
	resp := tr.Get(context.Background(), srv.URL+"/v1/open?foo=1")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, config.SDKVersion, gotSDK)
	assert.Equal(t, "1", gotFoo, "기존 query 는 보존된다")
	assert.Equal(t, true, resp.Body["ok"])
}

func TestGetWithoutQueryStillTagged(t *testing.T) {
	var gotSDK string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSDK = r.URL.Query().Get("sdk")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tr := NewHTTP(testCfg())
	resp := tr.Get(context.Background(), srv.URL+"/v1/open")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, config.SDKVersion, gotSDK)
}

func TestPostInjectsSDKField(t *testing.T) {
	var gotContentType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`{"session_id":"s1"}`))
	}))
	defer srv.Close()

	tr := NewHTTP(testCfg())
	resp := tr.Post(context.Background(), srv.URL+"/v1/open", map[string]any{"k": "v"})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "v", gotBody["k"])
	assert.Equal(t, config.SDKVersion, gotBody["sdk"])
	assert.Equal(t, "s1", resp.Body["session_id"])
}

func TestPostWithoutAPIKeyShortCircuits(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	cfg := testCfg()
	cfg.SDKKey = config.NoStringValue

	tr := NewHTTP(cfg)
	resp := tr.Post(context.Background(), srv.URL+"/v1/open", nil)

	assert.Equal(t, StatusNoAPIKey, resp.StatusCode)
	assert.False(t, called, "키 미설정 시 네트워크 시도 없이 즉시 반환")
}

func TestConnectionFailureMapsToNoConnectivity(t *testing.T) {
	tr := NewHTTP(testCfg())

	// 닫힌 포트: status code 를 받지 못하는 연결 레벨 실패.
	resp := tr.Get(context.Background(), "http://127.0.0.1:1/v1/open")
	assert.Equal(t, StatusNoConnectivity, resp.StatusCode)

	resp = tr.Post(context.Background(), "http://127.0.0.1:1/v1/open", nil)
	assert.Equal(t, StatusNoConnectivity, resp.StatusCode)
}

func TestUnparseableBodyKeepsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json at all`))
	}))
	defer srv.Close()

	tr := NewHTTP(testCfg())
	resp := tr.Get(context.Background(), srv.URL+"/v1/open")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, resp.Body)
}

func TestEmptyBodyKeepsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := NewHTTP(testCfg())
	resp := tr.Get(context.Background(), srv.URL+"/v1/open")

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Nil(t, resp.Body)
}

func TestFailReason(t *testing.T) {
	cases := []struct {
		name string
		resp *Response
		want string
	}{
		{"nested error message", &Response{
			StatusCode: 400,
			Body:       map[string]any{"error": map[string]any{"message": "bad alias"}},
		}, "bad alias"},
		{"flat message", &Response{
			StatusCode: 500,
			Body:       map[string]any{"message": "upstream down"},
		}, "upstream down"},
		{"no connectivity", &Response{StatusCode: StatusNoConnectivity}, "no connectivity"},
		{"no api key", &Response{StatusCode: StatusNoAPIKey}, "no api key"},
		{"status text fallback", &Response{StatusCode: 503}, "Service Unavailable"},
		{"unknown", &Response{StatusCode: -42}, "unknown error"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.resp.FailReason())
		})
	}
}
