package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JhanGutierrez/ventry/internal/model"
)

type capturedRequest struct {
	Header http.Header
	Body   graphQLRequest
}

// fakeBackend answers every request with status and body and records what it
// received, decompressing snappy bodies.
type fakeBackend struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	body     string
	delay    time.Duration
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	if r.Header.Get("Content-Encoding") == "snappy" {
		decoded, err := snappy.Decode(nil, raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		raw = decoded
	}

	var req graphQLRequest
	_ = json.Unmarshal(raw, &req)

	f.mu.Lock()
	f.requests = append(f.requests, capturedRequest{Header: r.Header.Clone(), Body: req})
	status, body, delay := f.status, f.body, f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (f *fakeBackend) last(t *testing.T) capturedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newBackend(t *testing.T, status int, body string) (*fakeBackend, string) {
	t.Helper()
	fb := &fakeBackend{status: status, body: body}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)
	return fb, srv.URL
}

func TestClient_CreateWarehouse(t *testing.T) {
	fb, url := newBackend(t, 200, `{"data":{"insert_warehouses_one":{
		"id":"w-1","name":"North","location":"Dock 1",
		"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}}}`)
	gw := NewClient(url, WithToken("secret")).Gateway()

	got, err := gw.Warehouses.Create(context.Background(), model.Warehouse{
		ID: "w-1", Name: "North", Location: "Dock 1", SyncStatus: model.SyncStatusPendingCreation,
	})
	require.NoError(t, err)
	assert.Equal(t, "w-1", got.ID)
	assert.Equal(t, "North", got.Name)
	assert.Empty(t, got.SyncStatus)

	req := fb.last(t)
	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
	assert.Contains(t, req.Body.Query, "insert_warehouses_one(object: $object)")
	assert.Contains(t, req.Body.Query, "warehouses_insert_input!")

	object, ok := req.Body.Variables["object"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "w-1", object["id"], "client id is sent as the permanent id")
	assert.NotContains(t, object, "sync_status")
}

func TestClient_CompressedBody(t *testing.T) {
	fb, url := newBackend(t, 200, `{"data":{"insert_products_one":{"id":"p-1","sku":"SKU-1","name":"Bolt"}}}`)
	gw := NewClient(url, WithCompression(true)).Gateway()

	_, err := gw.Products.Create(context.Background(), model.Product{ID: "p-1", SKU: "SKU-1", Name: "Bolt"})
	require.NoError(t, err)

	req := fb.last(t)
	assert.Equal(t, "snappy", req.Header.Get("Content-Encoding"))
	assert.Contains(t, req.Body.Query, "insert_products_one")
}

func TestClient_UpdateInventory(t *testing.T) {
	fb, url := newBackend(t, 200, `{"data":{"update_inventory_by_pk":{"id":"inv-1","product_id":"p-1","warehouse_id":"w-1","quantity":12}}}`)
	gw := NewClient(url).Gateway()

	got, err := gw.Inventories.Update(context.Background(), "inv-1", Quantity(12))
	require.NoError(t, err)
	assert.Equal(t, int64(12), got.Quantity)

	req := fb.last(t)
	assert.Contains(t, req.Body.Query, "update_inventory_by_pk(pk_columns: $pk_columns, _set: $set)")
	assert.Equal(t, map[string]any{"id": "inv-1"}, req.Body.Variables["pk_columns"])
	assert.Equal(t, map[string]any{"quantity": float64(12)}, req.Body.Variables["set"])
}

func TestClient_UpdateMissingRecord(t *testing.T) {
	_, url := newBackend(t, 200, `{"data":{"update_inventory_by_pk":null}}`)
	gw := NewClient(url).Gateway()

	_, err := gw.Inventories.Update(context.Background(), "inv-x", Quantity(1))
	assert.True(t, model.IsValidation(err))
}

func TestClient_QueryWithFilter(t *testing.T) {
	fb, url := newBackend(t, 200, `{"data":{"inventory":[{"id":"inv-1","product_id":"p-1","warehouse_id":"w-1","quantity":3}]}}`)
	gw := NewClient(url).Gateway()

	got, err := gw.Inventories.Query(context.Background(), Filter{"warehouse_id": "w-1", "product_id": "p-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].Quantity)

	req := fb.last(t)
	assert.Contains(t, req.Body.Query, "inventory(where: $where")
	where, err := json.Marshal(req.Body.Variables["where"])
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"_and":[{"product_id":{"_eq":"p-1"}},{"warehouse_id":{"_eq":"w-1"}}]}`,
		string(where))
}

func TestClient_QueryEmpty(t *testing.T) {
	_, url := newBackend(t, 200, `{"data":{"movements":[]}}`)
	gw := NewClient(url).Gateway()

	got, err := gw.Movements.Query(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   model.ErrorKind
	}{
		{"server error", 503, "down", model.KindNetwork},
		{"rate limited", 429, "slow down", model.KindNetwork},
		{"bad request", 400, "bad", model.KindValidation},
		{"forbidden", 403, "no", model.KindValidation},
		{"graphql errors", 200, `{"errors":[{"message":"Uniqueness violation"}]}`, model.KindValidation},
		{"garbage", 200, `<html>`, model.KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, url := newBackend(t, tt.status, tt.body)
			gw := NewClient(url).Gateway()

			_, err := gw.Warehouses.Create(context.Background(), model.Warehouse{ID: "w-1", Name: "N", Location: "L"})
			require.Error(t, err)
			assert.Equal(t, tt.kind, model.KindOf(err), "err: %v", err)
		})
	}
}

func TestClient_GraphQLErrorMessage(t *testing.T) {
	_, url := newBackend(t, 200, `{"errors":[{"message":"a"},{"message":"b"}]}`)
	gw := NewClient(url).Gateway()

	_, err := gw.Products.Create(context.Background(), model.Product{ID: "p-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a; b")
	assert.Equal(t, model.CodeRejected, model.CodeOf(err))
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	gw := NewClient(url).Gateway()
	_, err := gw.Warehouses.Query(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, model.IsNetwork(err))
}

func TestClient_Timeout(t *testing.T) {
	fb, url := newBackend(t, 200, `{"data":{"warehouses":[]}}`)
	fb.mu.Lock()
	fb.delay = 200 * time.Millisecond
	fb.mu.Unlock()

	gw := NewClient(url).Gateway()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := gw.Warehouses.Query(ctx, nil)
	require.Error(t, err)
	assert.True(t, model.IsNetwork(err))
	assert.Equal(t, model.CodeTimeout, model.CodeOf(err))
}

func TestUnconfigured_FailsAsUnavailable(t *testing.T) {
	gw := Unconfigured()

	_, err := gw.Warehouses.Create(context.Background(), model.Warehouse{ID: "w-1"})
	require.Error(t, err)
	assert.True(t, model.IsNetwork(err))
	assert.Equal(t, model.CodeUnavailable, model.CodeOf(err))
	assert.ErrorIs(t, err, ErrNoEndpoint)

	_, err = gw.Inventories.Update(context.Background(), "inv-1", Quantity(3))
	assert.True(t, model.IsNetwork(err))

	_, err = gw.Movements.Query(context.Background(), nil)
	assert.True(t, model.IsNetwork(err))
}
