package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ent0n29/ridewallet/internal/observability"
	"github.com/ent0n29/ridewallet/internal/policy"
)

const (
	pageLimit       = "100"
	pageOffset      = "0"
	pageShowAll     = "true"
	maxResponseSize = 8 << 20
	maxErrorBody    = 4 << 10
)

// Config controls client construction.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RateLimit caps outbound requests per second across all sessions; 0 disables it.
	RateLimit  int
	HTTPClient *http.Client
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// Client talks to the rider wallet API. It holds no per-session state and is
// safe for concurrent use by every session in the process.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	metrics *observability.Metrics
	logger  *zap.Logger
}

func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse wallet api base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("wallet api base url %q must be absolute", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		base:    base,
		http:    httpClient,
		limiter: limiter,
		metrics: cfg.Metrics,
		logger:  logger.Named("wallet"),
	}, nil
}

// ListPasses returns the pass listing body verbatim. An empty provider lists
// every provider's passes, as the backend defines it.
func (c *Client) ListPasses(ctx context.Context, creds Credentials, provider Provider) ([]byte, error) {
	q := pageQuery()
	if provider != "" {
		q.Set("msp[]", string(provider))
	}
	c.logger.Info("listing passes", zap.String("provider", string(provider)))
	return c.do(ctx, creds, OpListPasses, "", http.MethodGet, "/api/passes", q, nil)
}

// GetBalances reads both wallets and returns them only if both reads succeed.
// The subsidy failure is reported first when both fail.
func (c *Client) GetBalances(ctx context.Context, creds Credentials) (Balances, error) {
	var (
		out                       Balances
		subsidyErr, personalErr   error
		subsidyBody, personalBody []byte
	)

	// One failed read cancels the other; the survivor then reports a
	// cancellation that must not mask the real cause.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		subsidyBody, subsidyErr = c.readWallet(gctx, creds, WalletSubsidy)
		return subsidyErr
	})
	g.Go(func() error {
		personalBody, personalErr = c.readWallet(gctx, creds, WalletPersonal)
		return personalErr
	})
	if err := g.Wait(); err != nil {
		for _, walletErr := range []error{subsidyErr, personalErr} {
			if walletErr == nil {
				continue
			}
			if ctx.Err() == nil && errors.Is(walletErr, context.Canceled) {
				continue
			}
			return Balances{}, walletErr
		}
		return Balances{}, err
	}

	out.Subsidy = AsJSON(subsidyBody)
	out.Personal = AsJSON(personalBody)
	return out, nil
}

func (c *Client) readWallet(ctx context.Context, creds Credentials, w WalletType) ([]byte, error) {
	path := "/api/rider/" + w.Slug() + "-wallet"
	return c.do(ctx, creds, OpGetBalances, w, http.MethodGet, path, pageQuery(), nil)
}

// Purchase submits one purchase request. It is never retried here: repeating
// it sends a new purchase.
func (c *Client) Purchase(ctx context.Context, creds Credentials, req PurchaseRequest) (json.RawMessage, error) {
	c.logger.Info("purchasing pass",
		zap.String("pass_id", req.PassID),
		zap.String("wallet_type", string(req.WalletType)),
		zap.Int("quantity", req.Quantity),
	)
	body, err := c.do(ctx, creds, OpPurchase, "", http.MethodPost, "/api/rider/passes", nil, req.payload())
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, &UpstreamError{
			Operation: OpPurchase,
			Status:    http.StatusOK,
			Body:      truncate(body, maxErrorBody),
			Detail:    "confirmation is not valid JSON",
		}
	}
	return json.RawMessage(body), nil
}

func (c *Client) do(ctx context.Context, creds Credentials, op Operation, w WalletType, method, path string, query url.Values, payload any) ([]byte, error) {
	token := credentialsToken(creds)
	if token == "" {
		c.logger.Warn("refusing wallet api call without credentials", zap.String("operation", string(op)))
		return nil, fmt.Errorf("%s: %w", op, ErrMissingCredentials)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Operation: op, Wallet: w, Err: err}
		}
	}

	u := c.base.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(string(op), "transport_error", time.Since(started))
		c.logger.Warn("wallet api transport failure", zap.String("operation", string(op)), zap.Error(err))
		return nil, &TransportError{Operation: op, Wallet: w, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	c.metrics.ObserveUpstream(string(op), strconv.Itoa(res.StatusCode), time.Since(started))
	if err != nil {
		return nil, &TransportError{Operation: op, Wallet: w, Err: fmt.Errorf("read response: %w", err)}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		upErr := &UpstreamError{
			Operation: op,
			Wallet:    w,
			Status:    res.StatusCode,
			Body:      truncate(body, maxErrorBody),
		}
		redacted, _ := policy.RedactSecrets(upErr.Body)
		c.logger.Warn("wallet api rejected request",
			zap.String("operation", string(op)),
			zap.String("wallet", string(w)),
			zap.Int("status", res.StatusCode),
			zap.String("body", redacted),
		)
		return nil, upErr
	}
	return body, nil
}

func pageQuery() url.Values {
	return url.Values{
		"limit":    {pageLimit},
		"offset":   {pageOffset},
		"show_all": {pageShowAll},
	}
}

func credentialsToken(creds Credentials) string {
	if creds == nil {
		return ""
	}
	return creds.AuthKey()
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

// AsJSON keeps valid JSON as-is and wraps anything else as a JSON string so
// the document can still be embedded in a tool result.
func AsJSON(b []byte) json.RawMessage {
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, _ := json.Marshal(string(b))
	return json.RawMessage(quoted)
}
