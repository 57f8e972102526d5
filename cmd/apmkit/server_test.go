package main

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	accept bool
	urls   []*url.URL
}

func (h *recordingHandler) HandleRedirect(u *url.URL) bool {
	h.urls = append(h.urls, u)
	return h.accept
}

func TestReturnServerForwardsRedirect(t *testing.T) {
	h := &recordingHandler{accept: true}
	s := NewReturnServer(h, "localhost:0")

	req := httptest.NewRequest(http.MethodGet, "http://localhost:8765/return?status=ok", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.urls, 1)
	assert.Equal(t, "http", h.urls[0].Scheme)
	assert.Equal(t, "localhost:8765", h.urls[0].Host)
	assert.Equal(t, "/return", h.urls[0].Path)
	assert.Equal(t, "ok", h.urls[0].Query().Get("status"))
}

func TestReturnServerRejectsUnmatchedRedirect(t *testing.T) {
	s := NewReturnServer(&recordingHandler{}, "localhost:0")

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://localhost:8765/other", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListenAddress(t *testing.T) {
	tests := []struct {
		returnURL string
		override  string
		want      string
	}{
		{"http://localhost:8765/return", "", "localhost:8765"},
		{"http://127.0.0.1/return", "", "127.0.0.1:80"},
		{"https://shop.example.com/return", "", "shop.example.com:443"},
		{"myapp://return", "", ""},
		{"myapp://return", ":9000", ":9000"},
		{"", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.returnURL+tt.override, func(t *testing.T) {
			assert.Equal(t, tt.want, listenAddress(tt.returnURL, tt.override))
		})
	}
}
