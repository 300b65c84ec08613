// Package catalogclient implements the order saga's inventory port against a
// separately deployed product service.
package catalogclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
	"github.com/shopspring/decimal"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	peerCatalog    = "catalog"
	defaultTimeout = 2 * time.Second
	maxBodyBytes   = 1 << 20
)

// ErrUnavailable marks failures where the catalog certainly did not apply
// the request.
var ErrUnavailable = errors.New("catalog: service unavailable")

type Client struct {
	baseURL string
	http    *http.Client

	log          observability.Logger
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func NewClient(baseURL string, timeout time.Duration, tel observability.Observability, opts ...Option) *Client {
	if tel == nil {
		tel = observability.Nop()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	m := tel.Metrics()
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log:          tel.Logger().With(observability.F("peer", peerCatalog)),
		extCounter:   m.Counter(observability.MExternalRequests),
		extHistogram: m.Histogram(observability.MExternalRequestDuration),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type lineDTO struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type linesRequest struct {
	Items []lineDTO `json:"items"`
}

type availabilityRequest struct {
	ProductIDs []string `json:"productIds"`
}

type availabilityDTO struct {
	ProductID string `json:"productId"`
	Price     string `json:"price"`
	Stock     int    `json:"stock"`
}

type response struct {
	Status     string          `json:"status"`
	Code       string          `json:"code"`
	Message    string          `json:"message"`
	ProductIDs []string        `json:"productIds"`
	Data       json.RawMessage `json:"data"`
}

// Availability returns price and stock for the ids the catalog knows. Unknown
// or deleted products are absent from the result.
func (c *Client) Availability(ctx context.Context, productIDs []string) (map[string]dominv.Availability, error) {
	resp, status, err := c.do(ctx, http.MethodPost, "/products/availability", availabilityRequest{ProductIDs: productIDs})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: availability returned %d %s", ErrUnavailable, status, resp.Code)
	}

	var rows []availabilityDTO
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &rows); err != nil {
			return nil, fmt.Errorf("%w: decode availability: %v", ErrUnavailable, err)
		}
	}
	out := make(map[string]dominv.Availability, len(rows))
	for _, r := range rows {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, fmt.Errorf("%w: price of %s: %v", ErrUnavailable, r.ProductID, err)
		}
		out[r.ProductID] = dominv.Availability{ProductID: r.ProductID, Price: price, Stock: r.Stock}
	}
	return out, nil
}

// Reserve deducts every line or none. A request that may have reached the
// catalog without a definite answer yields dominv.ErrOutcomeUnknown.
func (c *Client) Reserve(ctx context.Context, lines []dominv.Line) error {
	resp, status, err := c.do(ctx, http.MethodPatch, "/products/deduct-stock", toRequest(lines))
	if err != nil {
		if refused(err) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return fmt.Errorf("%w: deduct-stock: %v", dominv.ErrOutcomeUnknown, err)
	}

	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusBadRequest, status == http.StatusConflict:
		return dominv.NewShortage(resp.ProductIDs...)
	case resp.Code == apperr.CodeReservationContended:
		return apperr.Upstream(apperr.CodeReservationContended, resp.Message, ErrUnavailable)
	case resp.Code == apperr.CodeManualReconciliation:
		return fmt.Errorf("%w: catalog reported %s", dominv.ErrOutcomeUnknown, resp.Message)
	default:
		return fmt.Errorf("%w: deduct-stock returned %d %s", ErrUnavailable, status, resp.Code)
	}
}

// Release credits lines back.
func (c *Client) Release(ctx context.Context, lines []dominv.Line) error {
	resp, status, err := c.do(ctx, http.MethodPatch, "/products/restock", toRequest(lines))
	if err != nil {
		return fmt.Errorf("catalog: restock: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("catalog: restock returned %d %s: %s", status, resp.Code, resp.Message)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (resp response, status int, err error) {
	endpoint := method + " " + path
	start := time.Now()
	outcome := observability.OutcomeSuccess
	defer func() {
		c.extCounter.Add(1,
			observability.L("peer", peerCatalog),
			observability.L("endpoint", endpoint),
			observability.L("outcome", outcome),
		)
		c.extHistogram.Observe(time.Since(start).Seconds(),
			observability.L("peer", peerCatalog),
			observability.L("endpoint", endpoint),
		)
		if err != nil {
			logctx.FromOr(ctx, c.log).Warn("catalog_request_failed",
				observability.F("endpoint", endpoint),
				observability.F("error", err.Error()),
			)
		}
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		outcome = observability.OutcomeError
		return resp, 0, fmt.Errorf("encode %s: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		outcome = observability.OutcomeError
		return resp, 0, fmt.Errorf("build %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	hr, err := c.http.Do(req)
	if err != nil {
		outcome = observability.OutcomeError
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = observability.OutcomeTimeout
		}
		return resp, 0, err
	}
	defer hr.Body.Close()

	if hr.StatusCode >= 400 {
		outcome = "rejected"
		if hr.StatusCode >= 500 {
			outcome = observability.OutcomeError
		}
	}
	raw, err := io.ReadAll(io.LimitReader(hr.Body, maxBodyBytes))
	if err != nil {
		outcome = observability.OutcomeError
		return resp, hr.StatusCode, fmt.Errorf("read %s: %w", endpoint, err)
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		// Error bodies from proxies may not be JSON; the status still counts.
		_ = json.Unmarshal(raw, &resp)
	}
	return resp, hr.StatusCode, nil
}

func toRequest(lines []dominv.Line) linesRequest {
	out := linesRequest{Items: make([]lineDTO, len(lines))}
	for i, l := range lines {
		out.Items[i] = lineDTO{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	return out
}

// refused reports a connection that was never established, so nothing can
// have been applied.
func refused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
