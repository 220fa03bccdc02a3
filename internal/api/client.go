package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/five82/platter/internal/auth"
	"github.com/five82/platter/internal/syncerr"
)

// Fetcher is the read surface the sync components depend on. It is
// implemented by *Client and by test doubles.
type Fetcher interface {
	FetchVersions(ctx context.Context) (VersionVector, error)
	FetchOrder(ctx context.Context, orderID string) (Order, error)
}

// Ensure Client implements Fetcher at compile time.
var _ Fetcher = (*Client)(nil)

// Client talks to the restaurant backend.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	stream    *http.Client
	session   *auth.Session
	logger    *zap.Logger
	userAgent string
}

const (
	defaultBaseURL   = "http://127.0.0.1:8080/api"
	defaultUserAgent = "platter/0.1"
	// DefaultRequestTimeout bounds every REST call. Streams are not bounded.
	DefaultRequestTimeout = 10 * time.Second
)

var orderIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Option configures a Client.
type Option func(*Client)

// WithSession attaches the auth session used for bearer tokens.
func WithSession(session *auth.Session) Option {
	return func(c *Client) { c.session = session }
}

// WithLogger sets the client's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTimeout overrides the REST request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		if ua := strings.TrimSpace(userAgent); ua != "" {
			c.userAgent = ua
		}
	}
}

// NewClient builds a Client for the backend rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	transport := otelhttp.NewTransport(http.DefaultTransport)
	c := &Client{
		baseURL: base,
		http: &http.Client{
			Timeout:   DefaultRequestTimeout,
			Transport: transport,
		},
		stream:    &http.Client{Transport: transport},
		logger:    zap.NewNop(),
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ValidateOrderID rejects empty or malformed order identifiers.
func ValidateOrderID(orderID string) error {
	if !orderIDPattern.MatchString(strings.TrimSpace(orderID)) {
		return syncerr.InvalidInput("api.order_id", fmt.Errorf("%w: %q", syncerr.ErrInvalidOrderID, orderID))
	}
	return nil
}

// FetchVersions retrieves the server version vector.
func (c *Client) FetchVersions(ctx context.Context) (VersionVector, error) {
	var payload VersionVector
	if err := c.get(ctx, &payload, "versions"); err != nil {
		return VersionVector{}, err
	}
	return payload, nil
}

// FetchMenuItems retrieves the full menu.
func (c *Client) FetchMenuItems(ctx context.Context) ([]MenuItem, error) {
	var payload envelope[[]MenuItem]
	if err := c.get(ctx, &payload, "menu", "items"); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// FetchMenuCategories retrieves the menu categories.
func (c *Client) FetchMenuCategories(ctx context.Context) ([]Category, error) {
	var payload envelope[[]Category]
	if err := c.get(ctx, &payload, "menu", "categories"); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// FetchMenuItem retrieves a single menu item.
func (c *Client) FetchMenuItem(ctx context.Context, id string) (MenuItem, error) {
	var payload envelope[MenuItem]
	if err := c.get(ctx, &payload, "menu", "items", id); err != nil {
		return MenuItem{}, err
	}
	return payload.Data, nil
}

// FetchMenuVersion retrieves the menu dataset version.
func (c *Client) FetchMenuVersion(ctx context.Context) (MenuVersion, error) {
	var payload envelope[MenuVersion]
	if err := c.get(ctx, &payload, "menu", "version"); err != nil {
		return MenuVersion{}, err
	}
	return payload.Data, nil
}

// FetchActiveBanners retrieves the banners currently on display.
func (c *Client) FetchActiveBanners(ctx context.Context) ([]Banner, error) {
	var payload envelope[[]Banner]
	if err := c.get(ctx, &payload, "banners", "active"); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// FetchBanners retrieves every banner.
func (c *Client) FetchBanners(ctx context.Context) ([]Banner, error) {
	var payload envelope[[]Banner]
	if err := c.get(ctx, &payload, "banners"); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// FetchBanner retrieves one banner.
func (c *Client) FetchBanner(ctx context.Context, id string) (Banner, error) {
	var payload envelope[Banner]
	if err := c.get(ctx, &payload, "banners", id); err != nil {
		return Banner{}, err
	}
	return payload.Data, nil
}

// FetchBalance retrieves the wallet balance.
func (c *Client) FetchBalance(ctx context.Context) (float64, error) {
	var payload balanceResponse
	if err := c.getAuthed(ctx, &payload, "wallet", "balance"); err != nil {
		return 0, err
	}
	return payload.Balance, nil
}

// FetchTransactions retrieves the wallet transaction history.
func (c *Client) FetchTransactions(ctx context.Context) ([]Transaction, error) {
	var payload transactionsResponse
	if err := c.getAuthed(ctx, &payload, "wallet", "transactions"); err != nil {
		return nil, err
	}
	return payload.Transactions, nil
}

// FetchWalletSummary retrieves balance and referral data in one call.
func (c *Client) FetchWalletSummary(ctx context.Context) (WalletSummary, error) {
	var payload WalletSummary
	if err := c.getAuthed(ctx, &payload, "wallet", "summary"); err != nil {
		return WalletSummary{}, err
	}
	return payload, nil
}

// FetchReferralCode retrieves the user's referral code.
func (c *Client) FetchReferralCode(ctx context.Context) (string, error) {
	var payload referralCodeResponse
	if err := c.getAuthed(ctx, &payload, "wallet", "referral-code"); err != nil {
		return "", err
	}
	return payload.ReferralCode, nil
}

// ApplyReferral redeems another user's referral code.
func (c *Client) ApplyReferral(ctx context.Context, code string) (ReferralResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return ReferralResult{}, syncerr.InvalidInput("api.apply_referral", errors.New("referral code required"))
	}
	if _, ok := c.session.Token(); !ok {
		return ReferralResult{}, syncerr.InvalidInput("api.apply_referral", syncerr.ErrUnauthenticated)
	}
	body, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return ReferralResult{}, fmt.Errorf("encode referral: %w", err)
	}
	var payload ReferralResult
	if err := c.do(ctx, http.MethodPost, c.resolve("wallet", "apply-referral"), bytes.NewReader(body), &payload); err != nil {
		return ReferralResult{}, err
	}
	return payload, nil
}

// FetchMyOrders retrieves the signed-in user's orders.
func (c *Client) FetchMyOrders(ctx context.Context) ([]Order, error) {
	var payload envelope[[]Order]
	if err := c.getAuthed(ctx, &payload, "orders", "mine"); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// FetchOrder retrieves a single order. Malformed ids fail without a request.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (Order, error) {
	if err := ValidateOrderID(orderID); err != nil {
		return Order{}, err
	}
	var payload envelope[Order]
	if err := c.get(ctx, &payload, "orders", strings.TrimSpace(orderID)); err != nil {
		return Order{}, err
	}
	return payload.Data, nil
}

// TrackOrder retrieves the public tracking view of an order.
func (c *Client) TrackOrder(ctx context.Context, orderID string) (Order, error) {
	if err := ValidateOrderID(orderID); err != nil {
		return Order{}, err
	}
	var payload envelope[Order]
	if err := c.get(ctx, &payload, "orders", strings.TrimSpace(orderID), "track"); err != nil {
		return Order{}, err
	}
	return payload.Data, nil
}

// OpenOrderStream opens the Server-Sent-Events stream for an order. The
// caller owns the returned body and must close it.
func (c *Client) OpenOrderStream(ctx context.Context, orderID string) (io.ReadCloser, error) {
	if err := ValidateOrderID(orderID); err != nil {
		return nil, err
	}
	reqURL := c.resolve("orders", strings.TrimSpace(orderID), "stream")
	req, err := c.newRequest(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, syncerr.Transient("api.stream", fmt.Errorf("execute request: %w", err))
	}
	if resp.StatusCode >= 400 {
		_ = resp.Body.Close()
		return nil, statusError(reqURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/event-stream") {
		_ = resp.Body.Close()
		return nil, syncerr.Parse("api.stream", fmt.Errorf("unexpected content type %q", ct))
	}
	return resp.Body, nil
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api %s returned status %d", e.URL, e.Code)
}

func statusError(u *url.URL, code int) error {
	err := &StatusError{URL: u.Path, Code: code}
	switch {
	case code == http.StatusUnauthorized:
		return syncerr.InvalidInput("api.status", fmt.Errorf("%w: %w", syncerr.ErrUnauthenticated, err))
	case code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout:
		return syncerr.Transient("api.status", err)
	default:
		return syncerr.InvalidInput("api.status", err)
	}
}

func (c *Client) getAuthed(ctx context.Context, dest any, segments ...string) error {
	if _, ok := c.session.Token(); !ok {
		return syncerr.InvalidInput("api."+strings.Join(segments, "."), syncerr.ErrUnauthenticated)
	}
	return c.get(ctx, dest, segments...)
}

func (c *Client) get(ctx context.Context, dest any, segments ...string) error {
	return c.do(ctx, http.MethodGet, c.resolve(segments...), nil, dest)
}

func (c *Client) resolve(segments ...string) *url.URL {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.baseURL.JoinPath(escaped...)
}

func (c *Client) newRequest(ctx context.Context, method string, reqURL *url.URL, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token, ok := c.session.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method string, reqURL *url.URL, body io.Reader, dest any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	req, err := c.newRequest(ctx, method, reqURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("path", reqURL.Path),
			zap.Error(err))
		return syncerr.Transient("api.request", fmt.Errorf("execute request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("path", reqURL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	if resp.StatusCode >= 400 {
		return statusError(reqURL, resp.StatusCode)
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return syncerr.Parse("api.decode", fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", raw, err)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
