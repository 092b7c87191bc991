package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/latentbo/internal/space"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/", Options{
		MaxTries:   3,
		Dataset:    "plant-a",
		NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})
	require.NoError(t, err)
	return c
}

func TestDecodeAndEvaluate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /decode", func(w http.ResponseWriter, r *http.Request) {
		var req decodeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(decodeResponse{Schedule: []float64{req.Z[0], req.Z[1], req.Z[0] + req.Z[1]}})
	})
	mux.HandleFunc("POST /decode/batch", func(w http.ResponseWriter, r *http.Request) {
		var req decodeBatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := make([][]float64, len(req.Z))
		for i, z := range req.Z {
			out[i] = []float64{z[0] * 2}
		}
		json.NewEncoder(w).Encode(decodeBatchResponse{Schedules: out})
	})
	mux.HandleFunc("POST /evaluate", func(w http.ResponseWriter, r *http.Request) {
		var req evaluateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "plant-a", req.Dataset)
		assert.Equal(t, 7, req.Index)
		var sum float64
		for _, v := range req.Schedule {
			sum += v
		}
		json.NewEncoder(w).Encode(map[string]float64{"value": sum})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	s, err := c.Decode(ctx, space.Candidate{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, s)

	batch, err := c.DecodeBatch(ctx, []space.Candidate{{1, 0}, {3, 0}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{2}, {6}}, batch)

	y, err := c.Evaluate(ctx, s, 7)
	require.NoError(t, err)
	assert.Equal(t, 6.0, y)
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int64
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"schedule": [0.5, 1.5]}`))
	}))

	schedule, err := c.Decode(context.Background(), space.Candidate{0.5, 1.5})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.5}, schedule)
	assert.Equal(t, int64(3), calls.Load())
}

func TestEvaluateIsSentOnce(t *testing.T) {
	var calls atomic.Int64
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "trainer crashed", http.StatusInternalServerError)
	}))

	_, err := c.Evaluate(context.Background(), []float64{1}, 1)
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.True(t, serr.Temporary())
	assert.Equal(t, int64(1), calls.Load())
}

func TestClientErrorsArePermanent(t *testing.T) {
	var calls atomic.Int64
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "schedule too short", http.StatusUnprocessableEntity)
	}))

	_, err := c.Evaluate(context.Background(), []float64{1}, 1)
	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusUnprocessableEntity, serr.Status)
	assert.Equal(t, "schedule too short", serr.Body)
	assert.False(t, serr.Temporary())
	assert.Equal(t, int64(1), calls.Load())
}

func TestRetriesAreBounded(t *testing.T) {
	var calls atomic.Int64
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.Decode(context.Background(), space.Candidate{0, 0})
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.True(t, serr.Temporary())
	assert.Equal(t, int64(3), calls.Load())
}

func TestMalformedResponses(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/evaluate":
			w.Write([]byte(`{}`))
		case "/decode/batch":
			w.Write([]byte(`{"schedules": [[1]]}`))
		default:
			w.Write([]byte(`not json`))
		}
	}))
	ctx := context.Background()

	_, err := c.Evaluate(ctx, []float64{1}, 1)
	assert.ErrorContains(t, err, "no value")

	_, err = c.DecodeBatch(ctx, []space.Candidate{{0, 0}, {1, 1}})
	assert.ErrorContains(t, err, "2 candidates")

	_, err = c.Decode(ctx, space.Candidate{0, 0})
	assert.ErrorContains(t, err, "failed to decode /decode response")
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient("", Options{})
	assert.Error(t, err)
}
