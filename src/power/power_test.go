package power

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePowerShapes(t *testing.T) {
	for body, want := range map[string]uint64{
		`{"power": 3}`:                    3,
		`{"votingPower": "12"}`:           12,
		`{"data": {"voting_power": 7}}`:   7,
		`{"weight": 0}`:                   0,
	} {
		got, err := parsePower([]byte(body))
		require.NoError(t, err, body)
		assert.Equal(t, want, got, body)
	}
	_, err := parsePower([]byte(`{"owner":"x"}`))
	assert.Error(t, err)
}

func TestIndexerSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/voting-power/holder":
			_, _ = w.Write([]byte(`{"votingPower": 4}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	src := NewIndexerSource(srv.URL, time.Second)
	p, err := src.PowerOf(context.Background(), "holder")
	require.NoError(t, err)
	assert.EqualValues(t, 4, p)

	p, err = src.PowerOf(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, p)
}

func TestStatic(t *testing.T) {
	p, err := Static{"a": 2}.PowerOf(context.Background(), "a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, p)
}
