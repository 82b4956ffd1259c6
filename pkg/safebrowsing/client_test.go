package safebrowsing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

func TestLookup_Clean(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threatMatches:find", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))

		var body findRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.ThreatInfo.ThreatEntries, 1)
		assert.Equal(t, "https://example.com/", body.ThreatInfo.ThreatEntries[0].URL)

		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	v, err := NewClient("k", WithBaseURL(srv.URL)).Lookup(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.False(t, v.Unsafe)
	assert.Empty(t, v.ThreatTypes)
}

func TestLookup_Match(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"matches":[{"threatType":"MALWARE","threat":{"url":"https://bad.test/"}}]}`))
	}))
	defer srv.Close()

	v, err := NewClient("k", WithBaseURL(srv.URL)).Lookup(context.Background(), "https://bad.test/")
	require.NoError(t, err)
	assert.True(t, v.Unsafe)
	assert.Equal(t, []string{"MALWARE"}, v.ThreatTypes)
}

func TestLookup_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).Lookup(context.Background(), "https://example.com/")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestLookup_MissingKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient("").Lookup(context.Background(), "https://example.com/")
	require.Error(t, err)
}
