package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sementesanta/checkin/backend/internal/errors"
	"github.com/sementesanta/checkin/backend/internal/models"
)

// fakeVisitorEngine is a canned-data engine for handler tests.
type fakeVisitorEngine struct {
	visitors  []models.Visitor
	addErr    error
	removeErr error
	added     []models.Visitor
	removed   []int64
}

func (f *fakeVisitorEngine) Snapshot() []models.Visitor { return f.visitors }

func (f *fakeVisitorEngine) AddVisitor(ctx context.Context, v models.Visitor) (models.Visitor, error) {
	if f.addErr != nil {
		return models.Visitor{}, f.addErr
	}
	v.ID = time.Now().UnixMilli()
	if v.Date == "" {
		v.Date = models.Today()
	}
	f.added = append(f.added, v)
	return v, nil
}

func (f *fakeVisitorEngine) RemoveVisitor(ctx context.Context, id int64) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, id)
	return nil
}

func newVisitorRouter(engine *fakeVisitorEngine) http.Handler {
	h := NewVisitorHandler(engine)
	r := chi.NewRouter()
	r.Get("/api/visitors", h.List)
	r.Post("/api/visitors", h.Create)
	r.Get("/api/visitors/export", h.Export)
	r.Delete("/api/visitors/{id}", h.Delete)
	return r
}

func TestListVisitors(t *testing.T) {
	engine := &fakeVisitorEngine{visitors: []models.Visitor{
		{ID: 1, Name: "Ana", Date: "01/02/2026", IsFirstTime: true},
		{ID: 2, Name: "Bruno", Date: "02/02/2026"},
		{ID: 3, Name: "Carla", Date: "01/02/2026"},
	}}
	router := newVisitorRouter(engine)

	t.Run("full list sorted and paged", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/visitors", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Visitors   []models.Visitor `json:"visitors"`
			TotalItems int              `json:"totalItems"`
			Stats      struct {
				Total     int `json:"total"`
				FirstTime int `json:"firstTime"`
			} `json:"stats"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

		require.Len(t, body.Visitors, 3)
		assert.Equal(t, int64(2), body.Visitors[0].ID, "newest date first")
		assert.Equal(t, 3, body.TotalItems)
		assert.Equal(t, 1, body.Stats.FirstTime)
	})

	t.Run("filters narrow the stats too", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/visitors?date=01/02/2026", nil))

		var body struct {
			Visitors []models.Visitor `json:"visitors"`
			Stats    struct {
				Total int `json:"total"`
			} `json:"stats"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Len(t, body.Visitors, 2)
		assert.Equal(t, 2, body.Stats.Total)
	})

	t.Run("pagination parameters", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/visitors?page=2&pageSize=2", nil))

		var body struct {
			Visitors   []models.Visitor `json:"visitors"`
			Page       int              `json:"page"`
			TotalPages int              `json:"totalPages"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Page)
		assert.Equal(t, 2, body.TotalPages)
		assert.Len(t, body.Visitors, 1)
	})
}

func TestCreateVisitor(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		engine := &fakeVisitorEngine{}
		router := newVisitorRouter(engine)

		payload := `{"name":"  Ana Souza  ","phone":"11 99999","isFirstTime":true}`
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/visitors", bytes.NewBufferString(payload))
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)
		require.Len(t, engine.added, 1)
		assert.Equal(t, "Ana Souza", engine.added[0].Name, "name is trimmed")
		assert.True(t, engine.added[0].IsFirstTime)

		var created models.Visitor
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
		assert.NotZero(t, created.ID)
	})

	t.Run("missing name rejected", func(t *testing.T) {
		engine := &fakeVisitorEngine{}
		router := newVisitorRouter(engine)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/visitors", bytes.NewBufferString(`{"phone":"11"}`))
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, engine.added)
	})

	t.Run("malformed body rejected", func(t *testing.T) {
		router := newVisitorRouter(&fakeVisitorEngine{})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/visitors", bytes.NewBufferString(`{not json`))
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("engine validation error maps to 400", func(t *testing.T) {
		engine := &fakeVisitorEngine{addErr: apperrors.New(apperrors.ErrValidation, "visitor name must not be empty")}
		router := newVisitorRouter(engine)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/visitors", bytes.NewBufferString(`{"name":"X"}`))
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("engine failure maps to 500", func(t *testing.T) {
		engine := &fakeVisitorEngine{addErr: apperrors.New(apperrors.ErrDatabase, "disk error")}
		router := newVisitorRouter(engine)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/visitors", bytes.NewBufferString(`{"name":"X"}`))
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestDeleteVisitor(t *testing.T) {
	t.Run("valid id", func(t *testing.T) {
		engine := &fakeVisitorEngine{}
		router := newVisitorRouter(engine)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/visitors/1700000000001", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.Len(t, engine.removed, 1)
		assert.Equal(t, int64(1700000000001), engine.removed[0])
	})

	t.Run("invalid id rejected", func(t *testing.T) {
		router := newVisitorRouter(&fakeVisitorEngine{})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/visitors/abc", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/visitors/-5", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestExportVisitors(t *testing.T) {
	engine := &fakeVisitorEngine{visitors: []models.Visitor{
		{ID: 1, Name: "Ana", Phone: "11", Date: "01/02/2026", IsFirstTime: true},
		{ID: 2, Name: "Bruno", Date: "02/02/2026"},
	}}
	router := newVisitorRouter(engine)

	t.Run("streams csv attachment", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/visitors/export", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "visitantes.csv")
		assert.Contains(t, rec.Body.String(), "Nome,Telefone,Data,Primeira Vez")
		assert.Contains(t, rec.Body.String(), "Ana,11,01/02/2026,Sim")
	})

	t.Run("date filter shapes content and name", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/visitors/export?date=01/02/2026", nil))

		assert.Contains(t, rec.Header().Get("Content-Disposition"), "visitantes-01-02-2026.csv")
		assert.Contains(t, rec.Body.String(), "Ana")
		assert.NotContains(t, rec.Body.String(), "Bruno")
	})
}
