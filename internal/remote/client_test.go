package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sementesanta/checkin/backend/internal/errors"
	"github.com/sementesanta/checkin/backend/internal/models"
)

func newTestClient(serverURL string) *Client {
	return NewClient(serverURL, "test-key", "visitors", time.Second, 2)
}

func TestTestConnectivity(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/visitors", r.URL.Path)
			assert.Equal(t, "id", r.URL.Query().Get("select"))
			w.Write([]byte("[]"))
		}))
		defer server.Close()

		assert.True(t, newTestClient(server.URL).TestConnectivity(context.Background()))
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		assert.False(t, newTestClient(server.URL).TestConnectivity(context.Background()))
	})

	t.Run("connection refused", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		assert.False(t, newTestClient(server.URL).TestConnectivity(context.Background()))
	})
}

func TestFetchAll(t *testing.T) {
	t.Run("decodes records", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "test-key", r.Header.Get("apikey"))
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

			json.NewEncoder(w).Encode([]models.Visitor{
				{ID: 1, Name: "Ana", Date: "01/02/2026", IsFirstTime: true},
				{ID: 2, Name: "Bruno", Date: "02/02/2026"},
			})
		}))
		defer server.Close()

		visitors, err := newTestClient(server.URL).FetchAll(context.Background())
		require.NoError(t, err)
		require.Len(t, visitors, 2)
		assert.Equal(t, "Ana", visitors[0].Name)
		assert.True(t, visitors[0].IsFirstTime)
	})

	t.Run("rejected status surfaces code", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "permission denied", http.StatusForbidden)
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).FetchAll(context.Background())
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrRemoteRejected))
	})

	t.Run("unreachable surfaces code", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		_, err := newTestClient(server.URL).FetchAll(context.Background())
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrRemoteUnavailable))
	})

	t.Run("timeout surfaces code", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte("[]"))
		}))
		defer server.Close()

		client := NewClient(server.URL, "", "visitors", 50*time.Millisecond, 0)
		_, err := client.FetchAll(context.Background())
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrRemoteTimeout))
	})
}

func TestUpsertBatch(t *testing.T) {
	t.Run("sends merge-duplicates upsert", func(t *testing.T) {
		var received []models.Visitor
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "resolution=merge-duplicates", r.Header.Get("Prefer"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			w.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		err := newTestClient(server.URL).UpsertBatch(context.Background(), []models.Visitor{
			{ID: 10, Name: "Ana", Date: "01/02/2026"},
		})
		require.NoError(t, err)
		require.Len(t, received, 1)
		assert.Equal(t, int64(10), received[0].ID)
	})

	t.Run("chunks to batch size", func(t *testing.T) {
		var calls int
		var sizes []int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			var batch []models.Visitor
			json.NewDecoder(r.Body).Decode(&batch)
			sizes = append(sizes, len(batch))
			w.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		visitors := make([]models.Visitor, 5)
		for i := range visitors {
			visitors[i] = models.Visitor{ID: int64(i + 1), Name: "V", Date: "01/01/2026"}
		}

		// Batch size is 2, so five records need three calls.
		err := newTestClient(server.URL).UpsertBatch(context.Background(), visitors)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []int{2, 2, 1}, sizes)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected for an empty batch")
		}))
		defer server.Close()

		assert.NoError(t, newTestClient(server.URL).UpsertBatch(context.Background(), nil))
	})
}

func TestDeleteBatch(t *testing.T) {
	t.Run("sends id list filter", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			assert.Equal(t, "in.(1,2)", r.URL.Query().Get("id"))
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		err := newTestClient(server.URL).DeleteBatch(context.Background(), []int64{1, 2})
		require.NoError(t, err)
	})

	t.Run("not found is success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		err := newTestClient(server.URL).DeleteBatch(context.Background(), []int64{99})
		assert.NoError(t, err)
	})

	t.Run("rejected status surfaces code", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
		}))
		defer server.Close()

		err := newTestClient(server.URL).DeleteBatch(context.Background(), []int64{1})
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrRemoteRejected))
	})
}
