// Package identity is the HTTP client for the identity collaborator that owns
// buyers and their addresses.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/identity"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	peerIdentity   = "identity"
	defaultTimeout = 2 * time.Second
	maxBodyBytes   = 1 << 20
)

type Client struct {
	baseURL string
	http    *http.Client

	log          observability.Logger
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

type Option func(*Client)

// WithHTTPClient replaces the default client. Its transport is used as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient talks to baseURL. Requests carry W3C trace headers and time out
// after timeout.
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
		log:          tel.Logger().With(observability.F("peer", peerIdentity)),
		extCounter:   m.Counter(observability.MExternalRequests),
		extHistogram: m.Histogram(observability.MExternalRequestDuration),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type buyerDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type addressDTO struct {
	ID      string `json:"id"`
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (c *Client) GetBuyer(ctx context.Context, id string) (*domain.Buyer, error) {
	var dto buyerDTO
	if err := c.get(ctx, "users", id, &dto, domain.ErrBuyerNotFound); err != nil {
		return nil, err
	}
	if dto.ID == "" {
		dto.ID = id
	}
	return &domain.Buyer{ID: dto.ID, Name: dto.Name, Email: dto.Email, Phone: dto.Phone}, nil
}

func (c *Client) GetAddress(ctx context.Context, id string) (*domain.Address, error) {
	var dto addressDTO
	if err := c.get(ctx, "address", id, &dto, domain.ErrAddressNotFound); err != nil {
		return nil, err
	}
	if dto.ID == "" {
		dto.ID = id
	}
	zip := dto.Zip
	if zip == "" {
		zip = dto.ZipCode
	}
	return &domain.Address{
		ID:      dto.ID,
		Street:  dto.Street,
		City:    dto.City,
		State:   dto.State,
		Zip:     zip,
		Country: dto.Country,
	}, nil
}

// get fetches /<resource>/<id> into out. 404 and other 4xx map to notFound;
// 5xx, transport errors and timeouts map to ErrUnavailable.
func (c *Client) get(ctx context.Context, resource, id string, out any, notFound error) (err error) {
	endpoint := "GET /" + resource + "/{id}"
	start := time.Now()
	outcome := observability.OutcomeSuccess
	defer func() {
		c.extCounter.Add(1,
			observability.L("peer", peerIdentity),
			observability.L("endpoint", endpoint),
			observability.L("outcome", outcome),
		)
		c.extHistogram.Observe(time.Since(start).Seconds(),
			observability.L("peer", peerIdentity),
			observability.L("endpoint", endpoint),
		)
		if err != nil && outcome != "not_found" {
			logctx.FromOr(ctx, c.log).Warn("identity_request_failed",
				observability.F("endpoint", endpoint),
				observability.F("error", err.Error()),
			)
		}
	}()

	if strings.TrimSpace(id) == "" {
		outcome = "not_found"
		return notFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/"+resource+"/"+url.PathEscape(id), nil)
	if err != nil {
		outcome = observability.OutcomeError
		return fmt.Errorf("%w: build request: %v", domain.ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		outcome = observability.OutcomeError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			outcome = observability.OutcomeTimeout
		}
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		outcome = "not_found"
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return notFound
	default:
		outcome = observability.OutcomeError
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return fmt.Errorf("%w: %s returned %d", domain.ErrUnavailable, endpoint, resp.StatusCode)
	}

	env := envelope[json.RawMessage]{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&env); err != nil {
		outcome = observability.OutcomeError
		return fmt.Errorf("%w: decode %s: %v", domain.ErrUnavailable, endpoint, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		outcome = "not_found"
		return notFound
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		outcome = observability.OutcomeError
		return fmt.Errorf("%w: decode %s: %v", domain.ErrUnavailable, endpoint, err)
	}
	return nil
}
