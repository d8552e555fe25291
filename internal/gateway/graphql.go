package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"

	"github.com/JhanGutierrez/ventry/internal/model"
)

// Field selections per table.
const (
	warehouseFields = "id name location created_at updated_at"
	productFields   = "id sku name description created_at updated_at"
	inventoryFields = "id product_id warehouse_id quantity created_at updated_at"
	movementFields  = "id inventory_id quantity type reason user_id created_at"
)

// Client talks GraphQL over HTTP to a Hasura-style backend: insert_<table>_one,
// update_<table>_by_pk and list queries filtered with where/_and/_eq.
//
// Thread-safety: Client is safe for concurrent use.
type Client struct {
	endpoint string
	token    string
	compress bool
	http     *http.Client
	logger   *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken sends token as a bearer Authorization header.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithCompression snappy-compresses request bodies and marks them with
// Content-Encoding: snappy.
func WithCompression(on bool) ClientOption {
	return func(c *Client) {
		c.compress = on
	}
}

// WithHTTPClient replaces the HTTP client. Default: 30s timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient returns a client posting to endpoint.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Gateway binds the client to the four entity tables.
func (c *Client) Gateway() *Gateway {
	return &Gateway{
		Warehouses:  resource[model.Warehouse, WarehousePatch]{c: c, table: "warehouses", fields: warehouseFields},
		Products:    resource[model.Product, ProductPatch]{c: c, table: "products", fields: productFields},
		Inventories: resource[model.InventoryRecord, InventoryPatch]{c: c, table: "inventory", fields: inventoryFields},
		Movements:   resource[model.Movement, MovementPatch]{c: c, table: "movements", fields: movementFields},
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []graphQLError             `json:"errors"`
}

// do posts one GraphQL operation and returns the data field named field.
func (c *Client) do(ctx context.Context, op, field, query string, vars map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, model.NewValidationError(op, model.CodeInvalidInput, fmt.Errorf("encode request: %w", err))
	}
	if c.compress {
		body = snappy.Encode(nil, body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, model.NewNetworkError(op, model.CodeUnavailable, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.compress {
		req.Header.Set("Content-Encoding", "snappy")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(op, err)
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, model.NewNetworkError(op, model.CodeUnavailable,
			fmt.Errorf("server error: status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, model.NewValidationError(op, model.CodeRejected,
			fmt.Errorf("client error %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}

	var gr graphQLResponse
	if err := json.Unmarshal(payload, &gr); err != nil {
		return nil, model.NewNetworkError(op, model.CodeUnavailable, fmt.Errorf("decode response: %w", err))
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, len(gr.Errors))
		for i, e := range gr.Errors {
			msgs[i] = e.Message
		}
		return nil, model.NewValidationError(op, model.CodeRejected, errors.New(strings.Join(msgs, "; ")))
	}

	c.logger.Debug("graphql call", "event", "gateway", "op", op, "status", resp.StatusCode)
	return gr.Data[field], nil
}

// transportError maps a failed round trip to a network error.
func transportError(op string, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return model.NewNetworkError(op, model.CodeTimeout, err)
	}
	return model.NewNetworkError(op, model.CodeUnavailable, err)
}

// resource implements Remote for one table.
type resource[T, P any] struct {
	c      *Client
	table  string
	fields string
}

func (r resource[T, P]) Create(ctx context.Context, record T) (T, error) {
	var out T
	op := "create " + r.table

	object, err := wireObject(record)
	if err != nil {
		return out, model.NewValidationError(op, model.CodeInvalidInput, err)
	}

	field := "insert_" + r.table + "_one"
	query := fmt.Sprintf("mutation Insert($object: %s_insert_input!) { %s(object: $object) { %s } }",
		r.table, field, r.fields)

	data, err := r.c.do(ctx, op, field, query, map[string]any{"object": object})
	if err != nil {
		return out, err
	}
	return decodeOne[T](op, data)
}

func (r resource[T, P]) Update(ctx context.Context, id string, patch P) (T, error) {
	var out T
	op := "update " + r.table

	field := "update_" + r.table + "_by_pk"
	query := fmt.Sprintf("mutation Update($pk_columns: %s_pk_columns_input!, $set: %s_set_input!) { %s(pk_columns: $pk_columns, _set: $set) { %s } }",
		r.table, r.table, field, r.fields)

	data, err := r.c.do(ctx, op, field, query, map[string]any{
		"pk_columns": map[string]string{"id": id},
		"set":        patch,
	})
	if err != nil {
		return out, err
	}
	return decodeOne[T](op, data)
}

func (r resource[T, P]) Query(ctx context.Context, filter Filter) ([]T, error) {
	op := "query " + r.table
	query := fmt.Sprintf("query List($where: %s_bool_exp) { %s(where: $where, order_by: {created_at: asc}) { %s } }",
		r.table, r.table, r.fields)

	data, err := r.c.do(ctx, op, r.table, query, map[string]any{"where": whereClause(filter)})
	if err != nil {
		return nil, err
	}

	var out []T
	if len(data) == 0 || string(data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, model.NewNetworkError(op, model.CodeUnavailable, fmt.Errorf("decode %s: %w", r.table, err))
	}
	return out, nil
}

// whereClause renders filter as {_and: [{field: {_eq: value}}, ...]} with
// fields in sorted order.
func whereClause(filter Filter) map[string]any {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	and := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		and = append(and, map[string]any{k: map[string]string{"_eq": filter[k]}})
	}
	return map[string]any{"_and": and}
}

// wireObject encodes record for an insert, without the client-only
// sync_status field.
func wireObject(record any) (map[string]any, error) {
	b, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, err
	}
	delete(obj, "sync_status")
	return obj, nil
}

func decodeOne[T any](op string, data json.RawMessage) (T, error) {
	var out T
	if len(data) == 0 || string(data) == "null" {
		return out, model.NewValidationError(op, model.CodeRejected, errors.New("no record returned"))
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, model.NewNetworkError(op, model.CodeUnavailable, fmt.Errorf("decode record: %w", err))
	}
	return out, nil
}
