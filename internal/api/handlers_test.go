package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cotaai/quotepipe/internal/models"
	"github.com/cotaai/quotepipe/internal/store"
)

type fakeRequestStore struct {
	byID      map[uuid.UUID]*models.QuoteRequest
	cancelled []uuid.UUID
	cancelErr error
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{byID: make(map[uuid.UUID]*models.QuoteRequest)}
}

func (f *fakeRequestStore) Get(ctx context.Context, id uuid.UUID) (*models.QuoteRequest, error) {
	qr, ok := f.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return qr, nil
}

func (f *fakeRequestStore) Cancel(ctx context.Context, id uuid.UUID) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func newTestAPI(rs requestStore) *API {
	return &API{requests: rs, log: zerolog.Nop()}
}

func withIDParam(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestHandleProgressReturnsNotFound(t *testing.T) {
	a := newTestAPI(newFakeRequestStore())
	req := withIDParam(httptest.NewRequest(http.MethodGet, "/v1/quotes/"+uuid.NewString()+"/progress", nil), uuid.NewString())
	rec := httptest.NewRecorder()

	a.handleProgress(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleProgressRejectsInvalidID(t *testing.T) {
	a := newTestAPI(newFakeRequestStore())
	req := withIDParam(httptest.NewRequest(http.MethodGet, "/v1/quotes/not-a-uuid/progress", nil), "not-a-uuid")
	rec := httptest.NewRecorder()

	a.handleProgress(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleProgressReturnsPriceFieldsOnceFinalized(t *testing.T) {
	rs := newFakeRequestStore()
	id := uuid.New()
	rs.byID[id] = &models.QuoteRequest{
		ID:            id,
		Status:        models.StatusDone,
		CheckpointTag: models.CheckpointCompleted,
		ProgressPct:   100,
		MeanPrice:     decimal.NewFromFloat(1500.00),
		MinPrice:      decimal.NewFromFloat(1400.00),
		MaxPrice:      decimal.NewFromFloat(1600.00),
		SpreadPct:     decimal.NewFromFloat(0.13),
	}
	a := newTestAPI(rs)
	req := withIDParam(httptest.NewRequest(http.MethodGet, "/v1/quotes/"+id.String()+"/progress", nil), id.String())
	rec := httptest.NewRecorder()

	a.handleProgress(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp progressResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "DONE", resp.Status)
	assert.Equal(t, "1500", resp.MeanPrice)
}

func TestHandleProgressOmitsPriceFieldsWhileInFlight(t *testing.T) {
	rs := newFakeRequestStore()
	id := uuid.New()
	rs.byID[id] = &models.QuoteRequest{ID: id, Status: models.StatusProcessing, ProgressPct: 40}
	a := newTestAPI(rs)
	req := withIDParam(httptest.NewRequest(http.MethodGet, "/v1/quotes/"+id.String()+"/progress", nil), id.String())
	rec := httptest.NewRecorder()

	a.handleProgress(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp progressResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.MeanPrice)
}

func TestHandleCancelMarksRequestCancelled(t *testing.T) {
	rs := newFakeRequestStore()
	id := uuid.New()
	rs.byID[id] = &models.QuoteRequest{ID: id, Status: models.StatusProcessing}
	a := newTestAPI(rs)
	req := withIDParam(httptest.NewRequest(http.MethodPost, "/v1/quotes/"+id.String()+"/cancel", nil), id.String())
	rec := httptest.NewRecorder()

	a.handleCancel(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []uuid.UUID{id}, rs.cancelled)
}

func TestHandleCancelRejectsInvalidID(t *testing.T) {
	a := newTestAPI(newFakeRequestStore())
	req := withIDParam(httptest.NewRequest(http.MethodPost, "/v1/quotes/not-a-uuid/cancel", nil), "not-a-uuid")
	rec := httptest.NewRecorder()

	a.handleCancel(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
