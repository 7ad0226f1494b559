package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/members/1000001/status", r.URL.Path)
		w.Write([]byte(`{"callsign":"EGLL_TWR","type":"atc"}`))
	}))
	defer srv.Close()

	c := NewVATSIMClient(srv.URL, time.Second)
	st, err := c.Status(context.Background(), "1000001")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "EGLL_TWR", st.Callsign)
	assert.Equal(t, KindATC, st.Kind)
}

func TestStatusNotOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewVATSIMClient(srv.URL, time.Second)
	st, err := c.Status(context.Background(), "1000001")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestStatusTransportErrorSurfaces(t *testing.T) {
	c := NewVATSIMClient("http://127.0.0.1:1", 200*time.Millisecond)
	st, err := c.Status(context.Background(), "1000001")
	require.Error(t, err)
	assert.Nil(t, st)
}

func TestStatusUnexpectedCodeSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewVATSIMClient(srv.URL, time.Second)
	st, err := c.Status(context.Background(), "1000001")
	require.Error(t, err)
	assert.Nil(t, st)
}

func TestIsBanned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"banned":true}`))
	}))
	defer srv.Close()

	c := NewVATSIMClient(srv.URL, time.Second)
	banned, err := c.IsBanned(context.Background(), "1000001")
	require.NoError(t, err)
	assert.True(t, banned)
}

func TestIsBannedTransportErrorSurfaces(t *testing.T) {
	c := NewVATSIMClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := c.IsBanned(context.Background(), "1000001")
	require.Error(t, err)
}
