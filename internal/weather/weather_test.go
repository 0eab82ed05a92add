package weather_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fielddispatch/gateway/internal/weather"
)

func TestGetConditions_EmptyBaseURLDegradesToNonExtreme(t *testing.T) {
	o := weather.New("", time.Second, zerolog.Nop())
	extreme, desc, err := o.GetConditions(context.Background(), 40.0, -73.0)
	require.NoError(t, err)
	assert.False(t, extreme)
	assert.Empty(t, desc)
}

func TestGetConditions_ReportsVendorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"extreme": true, "description": "blizzard"})
	}))
	defer srv.Close()

	o := weather.New(srv.URL, time.Second, zerolog.Nop())
	extreme, desc, err := o.GetConditions(context.Background(), 40.0, -73.0)
	require.NoError(t, err)
	assert.True(t, extreme)
	assert.Equal(t, "blizzard", desc)
}

func TestGetConditions_VendorErrorDegradesToNonExtreme(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := weather.New(srv.URL, time.Second, zerolog.Nop())
	extreme, _, err := o.GetConditions(context.Background(), 40.0, -73.0)
	require.NoError(t, err)
	assert.False(t, extreme)
}

func TestGetConditions_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := weather.New(srv.URL, time.Second, zerolog.Nop())
	for i := 0; i < 10; i++ {
		extreme, _, err := o.GetConditions(context.Background(), 40.0, -73.0)
		require.NoError(t, err)
		assert.False(t, extreme)
	}
}
