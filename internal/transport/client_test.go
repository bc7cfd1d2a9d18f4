package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"chatbridge/internal/logsink"
)

func TestDoJSON_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.Contains(t, r.Header.Get("Content-Type"), "application/json")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"name":"x"}`, string(body))
		_, _ = w.Write([]byte(`{"id":"42"}`))
	}))
	defer srv.Close()

	rec := logsink.NewRecorder()
	c := New(nil, rec)
	var out struct {
		ID string `json:"id"`
	}
	err := c.DoJSON(context.Background(), Request{
		Method:  http.MethodPost,
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": Bearer("tok")},
		Body:    map[string]string{"name": "x"},
	}, &out)
	require.NoError(t, err)
	require.Equal(t, "42", out.ID)

	entries := rec.Entries()
	require.Equal(t, logsink.Request, entries[0].Category)
	require.Equal(t, logsink.Response, entries[len(entries)-1].Category)
}

func TestDo_Non2xxCarriesFullBody(t *testing.T) {
	long := strings.Repeat("e", 10000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(long))
	}))
	defer srv.Close()

	c := New(srv.Client(), nil)
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)

	var se *HTTPStatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusBadRequest, se.HTTPStatusCode())
	require.Equal(t, long, se.Body)

	status, ok := StatusCode(err)
	require.True(t, ok)
	require.Equal(t, 400, status)
}

func TestDoJSON_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-json`))
	}))
	defer srv.Close()

	var out map[string]any
	err := New(nil, nil).DoJSON(context.Background(), Request{Method: http.MethodGet, URL: srv.URL}, &out)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")

	var de *DecodeError
	require.True(t, errors.As(err, &de))
	require.Equal(t, srv.URL, de.URL)
	_, isStatus := StatusCode(err)
	require.False(t, isStatus)
}

func TestOpen_NetworkError(t *testing.T) {
	rec := logsink.NewRecorder()
	_, err := New(nil, rec).Open(context.Background(), Request{Method: http.MethodGet, URL: "http://127.0.0.1:1"})
	require.Error(t, err)
	_, ok := StatusCode(err)
	require.False(t, ok)

	entries := rec.Entries()
	require.Equal(t, logsink.Error, entries[len(entries)-1].Category)
}
