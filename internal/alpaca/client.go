package alpaca

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"one-percent-trader-go/internal/config"
)

const (
	paperTradingURL = "https://paper-api.alpaca.markets/v2"
	liveTradingURL  = "https://api.alpaca.markets/v2"
	marketDataURL   = "https://data.alpaca.markets/v2"
	barsPageLimit   = 10000
)

// Client is the subset of the Alpaca trading and market-data APIs the bot uses.
type Client interface {
	GetClock(ctx context.Context) (*Clock, error)
	GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Bar, error)
	ListPositions(ctx context.Context) ([]Position, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	CancelOrder(ctx context.Context, id string) error
}

// RestClient is a client for the Alpaca REST APIs.
// It implements the Client interface.
type RestClient struct {
	trading       *resty.Client
	data          *resty.Client
	feed          string
	logger        *zap.Logger
	limiter       *rate.Limiter
	maxRetries    uint
	retryInterval time.Duration
}

// ensure RestClient implements the interface
var _ Client = (*RestClient)(nil)

// NewRestClient creates a new Alpaca REST API client.
func NewRestClient(cfg *config.Alpaca, logger *zap.Logger) *RestClient {
	logger = logger.Named("alpaca")

	tradingURL := cfg.TradingURL
	if tradingURL == "" {
		if cfg.Paper {
			tradingURL = paperTradingURL
		} else {
			tradingURL = liveTradingURL
		}
	}
	if cfg.Paper {
		logger.Info("Using Alpaca paper trading", zap.String("url", tradingURL))
	} else {
		logger.Warn("Using Alpaca LIVE trading", zap.String("url", tradingURL))
	}

	dataURL := cfg.DataURL
	if dataURL == "" {
		dataURL = marketDataURL
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	return &RestClient{
		trading:       newResty(tradingURL, cfg),
		data:          newResty(dataURL, cfg),
		feed:          cfg.DataFeed,
		logger:        logger,
		limiter:       rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		maxRetries:    uint(maxRetries),
		retryInterval: time.Second,
	}
}

func newResty(baseURL string, cfg *config.Alpaca) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetHeader("APCA-API-KEY-ID", cfg.ApiKey).
		SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey).
		SetHeader("Accept", "application/json").
		SetTimeout(30 * time.Second)
}

// doRequest executes a request with rate limiting and retries. build is
// called once per attempt so every attempt sends a fresh request.
// Rate limits (429), server errors and network errors are retried; other
// client errors are returned immediately.
func (c *RestClient) doRequest(ctx context.Context, client *resty.Client, method, path string, build func(*resty.Request) *resty.Request) (*resty.Response, error) {
	operation := func() (*resty.Response, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rate limiter wait failed: %w", err))
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", client.BaseURL+path))
		resp, err := build(client.R().SetContext(ctx)).Execute(method, path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		if !resp.IsError() {
			return resp, nil
		}

		apiErr := &APIError{StatusCode: resp.StatusCode(), Body: resp.String()}
		switch status := resp.StatusCode(); {
		case status == http.StatusTooManyRequests:
			if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil && seconds > 0 {
				return nil, backoff.RetryAfter(seconds)
			}
			return nil, apiErr
		case status >= http.StatusInternalServerError:
			return nil, apiErr
		default:
			return nil, backoff.Permanent(apiErr)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	policy.MaxInterval = c.retryInterval * 8

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Request failed, retrying...",
			zap.String("path", path),
			zap.Duration("retry_after", wait),
			zap.Error(err))
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxRetries),
		backoff.WithNotify(notify))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// GetClock fetches the market clock. It is also a cheap connectivity check.
func (c *RestClient) GetClock(ctx context.Context) (*Clock, error) {
	resp, err := c.doRequest(ctx, c.trading, http.MethodGet, "/clock", func(r *resty.Request) *resty.Request {
		return r.SetResult(&Clock{})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get clock: %w", err)
	}
	return resp.Result().(*Clock), nil
}

// GetBars fetches all bars of symbol in [start, end], following pagination.
// A zero end means up to now.
func (c *RestClient) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Bar, error) {
	var bars []Bar
	pageToken := ""
	for {
		params := url.Values{}
		params.Set("timeframe", timeframe)
		params.Set("start", start.UTC().Format(time.RFC3339))
		if !end.IsZero() {
			params.Set("end", end.UTC().Format(time.RFC3339))
		}
		params.Set("limit", strconv.Itoa(barsPageLimit))
		params.Set("adjustment", "raw")
		if c.feed != "" {
			params.Set("feed", c.feed)
		}
		if pageToken != "" {
			params.Set("page_token", pageToken)
		}

		path := "/stocks/" + url.PathEscape(symbol) + "/bars"
		resp, err := c.doRequest(ctx, c.data, http.MethodGet, path, func(r *resty.Request) *resty.Request {
			return r.SetQueryParamsFromValues(params).SetResult(&barsResponse{})
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get bars for %s: %w", symbol, err)
		}

		page := resp.Result().(*barsResponse)
		bars = append(bars, page.Bars...)
		if page.NextPageToken == nil || *page.NextPageToken == "" {
			break
		}
		pageToken = *page.NextPageToken
	}
	return bars, nil
}

// ListPositions fetches all open positions of the account.
func (c *RestClient) ListPositions(ctx context.Context) ([]Position, error) {
	var positions []Position
	_, err := c.doRequest(ctx, c.trading, http.MethodGet, "/positions", func(r *resty.Request) *resty.Request {
		return r.SetResult(&positions)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	return positions, nil
}

// SubmitOrder places a new order.
func (c *RestClient) SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	resp, err := c.doRequest(ctx, c.trading, http.MethodPost, "/orders", func(r *resty.Request) *resty.Request {
		return r.SetHeader("Content-Type", "application/json").SetBody(req).SetResult(&Order{})
	})
	if err != nil {
		c.logger.Error("Failed to submit order",
			zap.String("symbol", req.Symbol),
			zap.String("side", req.Side),
			zap.String("type", req.Type),
			zap.Error(err))
		return nil, fmt.Errorf("failed to submit order: %w", err)
	}

	order := resp.Result().(*Order)
	c.logger.Info("Order submitted",
		zap.String("id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.String("status", order.Status))
	return order, nil
}

// GetOrder fetches an order, including its legs.
func (c *RestClient) GetOrder(ctx context.Context, id string) (*Order, error) {
	resp, err := c.doRequest(ctx, c.trading, http.MethodGet, "/orders/"+url.PathEscape(id), func(r *resty.Request) *resty.Request {
		return r.SetQueryParam("nested", "true").SetResult(&Order{})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	return resp.Result().(*Order), nil
}

// CancelOrder requests cancellation of an open order. The broker may still
// fill it before the cancel takes effect.
func (c *RestClient) CancelOrder(ctx context.Context, id string) error {
	_, err := c.doRequest(ctx, c.trading, http.MethodDelete, "/orders/"+url.PathEscape(id), func(r *resty.Request) *resty.Request {
		return r
	})
	if err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", id, err)
	}
	c.logger.Info("Order cancel requested", zap.String("id", id))
	return nil
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
