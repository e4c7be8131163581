// Package rest implements the order, position and price collaborators over
// JSON-over-HTTP.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/arbwatch/errs"
	"github.com/coachpo/arbwatch/internal/domain/schema"
)

const (
	defaultTimeout = 10 * time.Second
	errorBodyLimit = 4 << 10
)

// Options configures a Client.
type Options struct {
	BaseURL       string
	OrdersPath    string
	PositionsPath string
	PricesPath    string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Client talks to the account collaborators.
type Client struct {
	base          string
	ordersPath    string
	positionsPath string
	pricesPath    string
	timeout       time.Duration
	http          *http.Client
}

// NewClient builds a Client.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errs.New("rest", errs.CodeInvalid, errs.WithMessage("base url required"))
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		base:          base,
		ordersPath:    orDefault(opts.OrdersPath, "/api/orders"),
		positionsPath: orDefault(opts.PositionsPath, "/api/positions"),
		pricesPath:    orDefault(opts.PricesPath, "/api/prices"),
		timeout:       timeout,
		http:          client,
	}, nil
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type orderQuery struct {
	InstrumentFilter []schema.Instrument `json:"instrumentFilter"`
	Credentials      []schema.Credential `json:"credentials"`
}

type positionQuery struct {
	Credentials []schema.Credential `json:"credentials"`
}

type priceQuery struct {
	Symbols []schema.SymbolRef `json:"symbols"`
}

// QueryOrders returns the orders visible with creds, filtered to instruments.
func (c *Client) QueryOrders(ctx context.Context, instruments []schema.Instrument, creds []schema.Credential) ([]schema.Order, error) {
	var out envelope[[]schema.Order]
	if err := c.post(ctx, "orders", c.ordersPath, orderQuery{InstrumentFilter: nonNil(instruments), Credentials: nonNil(creds)}, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// QueryPositions returns raw position records for creds.
func (c *Client) QueryPositions(ctx context.Context, creds []schema.Credential) ([]schema.PositionRecord, error) {
	var out envelope[[]schema.PositionRecord]
	if err := c.post(ctx, "positions", c.positionsPath, positionQuery{Credentials: nonNil(creds)}, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// QueryPrices returns last prices for symbols.
func (c *Client) QueryPrices(ctx context.Context, symbols []schema.SymbolRef) (schema.PriceTable, error) {
	var out envelope[schema.PriceTable]
	if err := c.post(ctx, "prices", c.pricesPath, priceQuery{Symbols: nonNil(symbols)}, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return schema.PriceTable{}, nil
	}
	return out.Data, nil
}

type result interface {
	ok() bool
	failure() string
}

func (e *envelope[T]) ok() bool { return e.Success }

func (e *envelope[T]) failure() string {
	if msg := strings.TrimSpace(e.Error); msg != "" {
		return msg
	}
	return strings.TrimSpace(e.Message)
}

func (c *Client) post(ctx context.Context, op, path string, body any, out result) error {
	component := "rest/" + op
	payload, err := json.Marshal(body)
	if err != nil {
		return errs.New(component, errs.CodeInvalid, errs.WithMessage("encode request"), errs.WithCause(err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.base + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return errs.New(component, errs.CodeInvalid, errs.WithMessage("create request"), errs.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.New(component, errs.CodeNetwork,
			errs.WithMessage("request "+op),
			errs.WithField("endpoint", endpoint),
			errs.WithRemediation("retried on the next poll"),
			errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return errs.New(component, errs.CodeCollaborator,
			errs.WithHTTP(resp.StatusCode),
			errs.WithMessage(fmt.Sprintf("%s status %d", op, resp.StatusCode)),
			errs.WithRawMessage(strings.TrimSpace(string(raw))),
			errs.WithField("endpoint", endpoint),
			errs.WithField("status", strconv.Itoa(resp.StatusCode)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.New(component, errs.CodeCollaborator,
			errs.WithHTTP(resp.StatusCode),
			errs.WithMessage("decode "+op+" response"),
			errs.WithField("endpoint", endpoint),
			errs.WithCause(err))
	}
	if !out.ok() {
		return errs.New(component, errs.CodeExchange,
			errs.WithMessage(op+" query unsuccessful"),
			errs.WithRawMessage(out.failure()),
			errs.WithField("endpoint", endpoint))
	}
	return nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func orDefault(path, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return fallback
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}
