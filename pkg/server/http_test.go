package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHandler(t *testing.T) (http.Handler, *CacheManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m := NewCacheManager()
	_, err := m.Create(context.Background(), testRef("ABC"))
	require.NoError(t, err)
	seed(t, m, "test:ABC", 3)
	return NewHTTPHandler(m), m
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealth(t *testing.T) {
	h, _ := setupHandler(t)
	rec, body := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestListBooks(t *testing.T) {
	h, _ := setupHandler(t)
	rec, body := get(t, h, "/books")
	assert.Equal(t, http.StatusOK, rec.Code)
	books, ok := body["books"].([]any)
	require.True(t, ok)
	require.Len(t, books, 1)
	assert.Equal(t, "test:ABC", books[0].(map[string]any)["key"])
}

func TestGetBook(t *testing.T) {
	h, _ := setupHandler(t)
	rec, body := get(t, h, "/books/test/ABC")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["bid_orders"])

	rec, _ = get(t, h, "/books/test/NOPE")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetDepth(t *testing.T) {
	h, m := setupHandler(t)
	info, err := m.Get(context.Background(), "test:ABC")
	require.NoError(t, err)

	rec, body := get(t, h, "/books/test/ABC/depth")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["exchange_sequence"])
	assert.Equal(t, float64(info.Checksum), body["checksum"])

	bids := body["bids"].([]any)
	require.Len(t, bids, 2)
	assert.Equal(t, map[string]any{"price": "100.0", "quantity": "1.00"}, bids[0])
	assert.Equal(t, map[string]any{"price": "99.5", "quantity": "2.00"}, bids[1])
	asks := body["asks"].([]any)
	require.Len(t, asks, 1)
	assert.Equal(t, map[string]any{"price": "101.0", "quantity": "1.50"}, asks[0])

	_, body = get(t, h, "/books/test/ABC/depth?depth=1")
	assert.Len(t, body["bids"].([]any), 1)

	rec, _ = get(t, h, "/books/test/ABC/depth?depth=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = get(t, h, "/books/test/NOPE/depth")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetOrder(t *testing.T) {
	h, _ := setupHandler(t)
	rec, body := get(t, h, "/books/test/ABC/orders/bid/b2")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "b2", body["order_id"])
	assert.Equal(t, "BUY", body["side"])
	assert.Equal(t, "99.5", body["price"])
	assert.Equal(t, "2.00", body["quantity"])
	assert.Equal(t, "0.00", body["quantity_before"])
	assert.Equal(t, "2.00", body["level_quantity"])

	rec, _ = get(t, h, "/books/test/ABC/orders/ask/b2")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = get(t, h, "/books/test/ABC/orders/sideways/b2")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
