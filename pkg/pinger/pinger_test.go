package pinger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"bare host", "example.com", "https://example.com/"},
		{"with https", "https://example.com", "https://example.com/"},
		{"with http", "http://example.com", "http://example.com/"},
		{"trailing slash kept", "https://example.com/", "https://example.com/"},
		{"whitespace trimmed", "  example.com  ", "https://example.com/"},
		{"path without slash", "example.com/health", "https://example.com/health/"},
		{"path with slash", "https://example.com/health/", "https://example.com/health/"},
		{"scheme-like prefix inside host", "myhttp.example.com", "https://myhttp.example.com/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			assert.Equal(t, tt.expected, got)

			// normalization is idempotent
			assert.Equal(t, got, Normalize(got))
		})
	}
}

func TestNormalize_Shape(t *testing.T) {
	for _, raw := range []string{"example.com", " a.b ", "http://x.y/z", "https://q.w/e/"} {
		got := Normalize(raw)
		assert.True(t, strings.HasPrefix(got, "http://") || strings.HasPrefix(got, "https://"), got)
		assert.True(t, strings.HasSuffix(got, "/"), got)
	}
}

func TestHTTPPinger_Ping(t *testing.T) {
	t.Run("success on 200", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("awake"))
		}))
		defer ts.Close()

		p := NewHTTPPinger(Config{})
		outcome := p.Ping(context.Background(), ts.URL+"/")
		assert.True(t, outcome.Success)
		assert.Equal(t, http.StatusOK, outcome.HTTPStatus)
		assert.Empty(t, outcome.ErrorDetail)
	})

	t.Run("redirects followed", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/ok", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/ok", http.StatusFound)
		})
		ts := httptest.NewServer(mux)
		defer ts.Close()

		p := NewHTTPPinger(Config{})
		outcome := p.Ping(context.Background(), ts.URL+"/")
		assert.True(t, outcome.Success)
		assert.Equal(t, http.StatusOK, outcome.HTTPStatus)
	})

	t.Run("failure on 404", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		defer ts.Close()

		p := NewHTTPPinger(Config{})
		outcome := p.Ping(context.Background(), ts.URL+"/")
		assert.False(t, outcome.Success)
		assert.Equal(t, http.StatusNotFound, outcome.HTTPStatus)
		assert.Contains(t, outcome.ErrorDetail, "404")
	})

	t.Run("failure on 500", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer ts.Close()

		p := NewHTTPPinger(Config{})
		outcome := p.Ping(context.Background(), ts.URL+"/")
		assert.False(t, outcome.Success)
		assert.Equal(t, http.StatusInternalServerError, outcome.HTTPStatus)
	})

	t.Run("failure on timeout", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(500 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		p := NewHTTPPinger(Config{RequestTimeout: 50 * time.Millisecond})
		outcome := p.Ping(context.Background(), ts.URL+"/")
		assert.False(t, outcome.Success)
		assert.Zero(t, outcome.HTTPStatus)
		assert.NotEmpty(t, outcome.ErrorDetail)
	})

	t.Run("failure on connection refused", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
		url := ts.URL
		ts.Close()

		p := NewHTTPPinger(Config{})
		outcome := p.Ping(context.Background(), url+"/")
		assert.False(t, outcome.Success)
		assert.Zero(t, outcome.HTTPStatus)
		assert.NotEmpty(t, outcome.ErrorDetail)
	})

	t.Run("failure on bad url", func(t *testing.T) {
		p := NewHTTPPinger(Config{})
		outcome := p.Ping(context.Background(), "https://bad url with spaces/")
		assert.False(t, outcome.Success)
		assert.NotEmpty(t, outcome.ErrorDetail)
	})

	t.Run("user agent sent", func(t *testing.T) {
		var gotUA string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUA = r.Header.Get("User-Agent")
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		p := NewHTTPPinger(Config{UserAgent: "wakewatch-test/1.0"})
		outcome := p.Ping(context.Background(), ts.URL+"/")
		require.True(t, outcome.Success)
		assert.Equal(t, "wakewatch-test/1.0", gotUA)
	})
}
