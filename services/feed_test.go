package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/SamuelLeutner/student-roster-sync/logger"
)

const rosterPayload = `{"data": [
	{"school_name": "Alpha School", "status": "Active", "grade_name": "GRADE iv", "student_name": "jane doe",
	 "student_id": 1042, "gender": "female", "division_name": "4-A", "created_date": "15/06/2024"},
	{"school_name": "Alpha School", "status": null, "grade_name": "Jr.KG", "student_name": "john roe",
	 "student_id": "S2", "gender": "M", "division_name": "B"}
]}`

func TestFetch_DecodesRoster(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "secret-key", r.URL.Query().Get("api-key"))
		assert.Equal(t, "ALL", r.URL.Query().Get("school_name"))
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(rosterPayload))
	}))
	defer srv.Close()

	c := NewFeedClient(testFeedConfig(srv.URL+"/students"), logger.NewNop())
	res, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	assert.Equal(t, "1042", res.Records[0].StudentID.Value)
	assert.True(t, res.Records[0].StudentID.Valid)
	assert.Equal(t, "15/06/2024", res.Records[0].CreatedDate.Value)
	assert.False(t, res.Records[1].Status.Valid)
	assert.False(t, res.Records[1].CreatedDate.Valid)
	assert.JSONEq(t, rosterPayload, string(res.Raw))
	assert.False(t, res.FetchedAt.IsZero())
}

func TestFetch_MissingDataIsEmptyBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message": "no students"}`))
	}))
	defer srv.Close()

	res, err := NewFeedClient(testFeedConfig(srv.URL), logger.NewNop()).Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Records)
}

func TestFetch_Failures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{"server error", http.StatusBadGateway, "upstream down", http.StatusBadGateway},
		{"unauthorized", http.StatusUnauthorized, "bad key", http.StatusUnauthorized},
		{"malformed json", http.StatusOK, `{"data": [`, 0},
		{"data not an array", http.StatusOK, `{"data": "nope"}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewFeedClient(testFeedConfig(srv.URL+"/students"), logger.NewNop()).Fetch(context.Background())
			var fe *FetchError
			require.True(t, errors.As(err, &fe), "got %v", err)
			assert.Equal(t, tt.wantStatus, fe.StatusCode)
			assert.Equal(t, srv.URL+"/students", fe.URL)
			assert.NotContains(t, err.Error(), "secret-key")
		})
	}
}

func TestFetch_NetworkFailureHidesAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := srv.URL + "/students"
	srv.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	cfg := testFeedConfig(target)
	cfg.MaxRetries = 1
	_, err := NewFeedClient(cfg, logger.FromZap(zap.New(core))).Fetch(context.Background())

	var fe *FetchError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, 0, fe.StatusCode)
	assert.Contains(t, err.Error(), target)
	assert.NotContains(t, err.Error(), "secret-key")
	assert.NotContains(t, err.Error(), "api-key")

	require.NotEmpty(t, logs.All())
	for _, entry := range logs.All() {
		for k, v := range entry.ContextMap() {
			assert.NotContains(t, fmt.Sprint(v), "secret-key", "log %q field %s", entry.Message, k)
		}
	}
}

func TestFetch_UsesCachedBearerToken(t *testing.T) {
	var authCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		authCalls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "user-token", r.Header.Get("token"))
		w.Write([]byte(`{"token": "access-123"}`))
	})
	mux.HandleFunc("/students", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-123" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data": []}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testFeedConfig(srv.URL + "/students")
	cfg.AuthURL = srv.URL + "/auth"
	cfg.UserToken = "user-token"
	c := NewFeedClient(cfg, logger.NewNop())
	require.NotNil(t, c.Tokens)

	for i := 0; i < 2; i++ {
		_, err := c.Fetch(context.Background())
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, authCalls.Load())
}

func TestFetch_AuthFailureIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token": ""}`))
	}))
	defer srv.Close()

	cfg := testFeedConfig(srv.URL)
	cfg.AuthURL = srv.URL + "/auth"
	cfg.UserToken = "user-token"

	_, err := NewFeedClient(cfg, logger.NewNop()).Fetch(context.Background())
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.ErrorContains(t, err, "auth token response was empty")
}
