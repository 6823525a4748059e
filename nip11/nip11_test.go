package nip11

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/nostr+json", r.Header.Get("Accept"))
		w.Write([]byte(`{"name":"test relay","supported_nips":[1,"4",42],"software":"x","limitation":{"auth_required":true}}`))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	info, err := Fetch(context.Background(), url)
	require.NoError(t, err)
	require.Equal(t, url, info.URL)
	require.Equal(t, "test relay", info.Name)
	require.True(t, info.Supports(1))
	require.True(t, info.Supports(4))
	require.True(t, info.Supports(42))
	require.False(t, info.Supports(44))
	require.True(t, info.Limitation.AuthRequired)
}

func TestFetchFailures(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	info, err := Fetch(context.Background(), url)
	require.Error(t, err)
	require.Equal(t, url, info.URL)

	_, err = Fetch(context.Background(), "ftp://nope")
	require.Error(t, err)
}
