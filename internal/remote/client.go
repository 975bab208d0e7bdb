// Package remote fetches bookmark pages from the remote library API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/starford/cqsync/internal/models"
)

// ListPath is the paginated bookmark content endpoint.
const ListPath = "/openApi/bookmarkContentList/v1"

const maxErrorBody = 4 << 10

// Config holds client settings.
type Config struct {
	BaseURL string
	// Timeout bounds each request. Zero selects 30s.
	Timeout time.Duration
	// RequestsPerSecond limits outgoing requests. Zero disables limiting.
	RequestsPerSecond float64
	// BreakerFailures is the number of consecutive connectivity or 5xx
	// failures that open the circuit. Zero selects 5.
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open. Zero selects 1m.
	BreakerCooldown time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// PageRequest identifies one page to fetch.
type PageRequest struct {
	Token    string
	PageNum  int
	PageSize int
	// Since is passed through untouched; the remote interprets it.
	Since string
}

// Client is the HTTP client for the remote library.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewClient creates a new Client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	logger := cfg.Logger
	threshold := cfg.BreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "remote",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var te *TransportError
			if errors.As(err, &te) {
				return te.StatusCode < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("remote: circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return c
}

// BearerToken formats token as a bearer credential, adding the scheme when
// the caller did not.
func BearerToken(token string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(token, "Bearer ") {
		return token
	}
	return "Bearer " + token
}

// FetchPage performs one authenticated page request.
//
// Failures are typed: *ConnectivityError, *TransportError or
// *ProtocolError. A parsed page with a non-success code is returned as-is;
// use CheckPage to turn it into an *ApplicationError.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*models.Page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &ConnectivityError{Err: err}
		}
	}

	body, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &ConnectivityError{Err: err}
		}
		return nil, err
	}
	return decodePage(body.([]byte))
}

func (c *Client) do(ctx context.Context, req PageRequest) ([]byte, error) {
	q := url.Values{}
	q.Set("pageNum", strconv.Itoa(req.PageNum))
	q.Set("pageSize", strconv.Itoa(req.PageSize))
	if req.Since != "" {
		q.Set("since", req.Since)
	}
	endpoint := c.baseURL + ListPath + "?" + q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", BearerToken(req.Token))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ConnectivityError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("remote: non-2xx response",
			slog.Int("status", resp.StatusCode),
			slog.Int("page", req.PageNum))
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectivityError{Err: err}
	}
	return data, nil
}

// decodePage parses the envelope strictly and the records leniently: a
// record that does not decode is quarantined on the page.
func decodePage(body []byte) (*models.Page, error) {
	var env struct {
		Code *int            `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ProtocolError{Err: err}
	}
	if env.Code == nil {
		return nil, &ProtocolError{Err: errors.New("missing code")}
	}

	page := &models.Page{Code: *env.Code, Message: env.Msg}
	if !page.Success() {
		return page, nil
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return page, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, &ProtocolError{Err: fmt.Errorf("data: %w", err)}
	}
	for i, item := range items {
		var rec models.ContentRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			page.Rejected = append(page.Rejected, models.RejectedRecord{Index: i, Err: err})
			continue
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}
