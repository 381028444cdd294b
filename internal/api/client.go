// Package api implements the authenticated client for the poschodoch.sk
// metering API and the helpers that normalize its daily readings payload.
//
// Authentication is a two step exchange:
//
//  1. POST /api/Auth/login with the account credentials returns a token.
//  2. POST /api/Auth/changeunit selects the portal context and returns the
//     operational token used for data reads.
//
// The operational token is cached until the API answers 401, at which point
// the client logs in again and retries the read once.
//
// Example usage:
//
//	httpClient := &http.Client{Transport: &http.Transport{}}
//	client, err := api.NewClient(httpClient, api.Config{
//	    Username: "user",
//	    Password: "secret",
//	}, logger)
//	payload, err := client.FetchLatestForFlat(ctx, "Flat 12")
//	records := api.ExtractRecords(payload)
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL  = "https://api.poschodoch.sk"
	DefaultPortalID = "108588"
	DefaultMenuID   = "56"
	DefaultTimeout  = 20 * time.Second

	loginPath        = "/api/Auth/login"
	changeUnitPath   = "/api/Auth/changeunit"
	dailyReadingPath = "/api/Flat/MeterDailyReadings"

	readingsTimeZone = "Europe/Prague"
	dateLayout       = "2006-01-02"
)

// Endpoint labels passed to a RequestObserver
const (
	EndpointLogin      = "login"
	EndpointChangeUnit = "changeunit"
	EndpointReadings   = "daily_readings"
)

// Config holds the account and endpoint settings of a Client
type Config struct {
	BaseURL  string
	Username string
	Password string
	PortalID string
	MenuID   string
	Timeout  time.Duration // per request deadline
}

// RequestObserver is notified after every upstream request. StatusCode is 0
// when no response was received.
type RequestObserver interface {
	ObserveUpstreamRequest(endpoint string, statusCode int, duration time.Duration)
}

// Option customizes a Client
type Option func(*Client)

// WithClock replaces time.Now, used for the reading date window and token
// expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithObserver registers an observer for upstream requests.
func WithObserver(observer RequestObserver) Option {
	return func(c *Client) { c.observer = observer }
}

// Client talks to the upstream API on behalf of one account.
type Client struct {
	http     *resty.Client
	cfg      Config
	logger   *logrus.Logger
	location *time.Location
	now      func() time.Time
	observer RequestObserver

	logins singleflight.Group

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewClient creates a Client that sends every request through the transport
// of httpClient. The http.Client itself is never closed or reconfigured: the
// Client works on a copy, so a client without a Transport (such as
// http.DefaultClient) is left untouched and the copy gets its own.
func NewClient(httpClient *http.Client, cfg Config, logger *logrus.Logger, opts ...Option) (*Client, error) {
	if httpClient == nil {
		return nil, errors.New("http client is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PortalID == "" {
		cfg.PortalID = DefaultPortalID
	}
	if cfg.MenuID == "" {
		cfg.MenuID = DefaultMenuID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	location, err := time.LoadLocation(readingsTimeZone)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %s: %w", readingsTimeZone, err)
	}

	shared := *httpClient
	rc := resty.NewWithClient(&shared).
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetLogger(logger)

	c := &Client{
		http:     rc,
		cfg:      cfg,
		logger:   logger,
		location: location,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Login returns the operational token, performing the login exchange when no
// valid token is cached. Concurrent callers share a single exchange.
//
// The shared exchange is not cancelled with ctx, since other callers may be
// waiting on it; each request still has its own deadline. A caller whose ctx
// ends stops waiting and gets ctx.Err().
func (c *Client) Login(ctx context.Context) (string, error) {
	if token := c.cachedToken(); token != "" {
		return token, nil
	}

	exchangeCtx := context.WithoutCancel(ctx)
	ch := c.logins.DoChan("login", func() (any, error) {
		if token := c.cachedToken(); token != "" {
			return token, nil
		}
		return c.login(exchangeCtx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			c.logger.Debug("Joined in-flight login")
		}
		return res.Val.(string), nil
	}
}

// FetchLatestForFlat returns the decoded daily readings of flatName for
// yesterday and today in the Europe/Prague calendar.
func (c *Client) FetchLatestForFlat(ctx context.Context, flatName string) (any, error) {
	dateFrom, dateTo := c.readingWindow()
	params := map[string]string{
		"menuId":   c.cfg.MenuID,
		"dateFrom": dateFrom,
		"dateTo":   dateTo,
		"Search":   flatName,
	}

	c.logger.WithFields(logrus.Fields{
		"flat":      flatName,
		"date_from": dateFrom,
		"date_to":   dateTo,
	}).Debug("Fetching daily readings")

	return c.authorizedGet(ctx, dailyReadingPath, params)
}

// readingWindow returns yesterday and today as civil dates in Europe/Prague.
func (c *Client) readingWindow() (string, string) {
	now := c.now().In(c.location)
	y, m, d := now.Date()
	today := time.Date(y, m, d, 12, 0, 0, 0, c.location)
	yesterday := time.Date(y, m, d-1, 12, 0, 0, 0, c.location)
	return yesterday.Format(dateLayout), today.Format(dateLayout)
}

func (c *Client) authorizedGet(ctx context.Context, path string, params map[string]string) (any, error) {
	token, err := c.Login(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.get(ctx, path, params, token)
	if err != nil {
		return nil, &FetchError{Err: err}
	}

	if resp.StatusCode() == http.StatusUnauthorized {
		c.logger.WithField("path", path).Info("Token rejected, logging in again")
		c.invalidateToken(token)

		token, err = c.Login(ctx)
		if err != nil {
			return nil, err
		}
		resp, err = c.get(ctx, path, params, token)
		if err != nil {
			return nil, &FetchError{Err: err}
		}
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, &FetchError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	payload, err := decodePayload(resp.Body())
	if err != nil {
		return nil, &FetchError{
			StatusCode: resp.StatusCode(),
			Body:       resp.String(),
			Err:        fmt.Errorf("%w: %v", ErrUnexpectedData, err),
		}
	}
	return payload, nil
}

// decodePayload keeps numbers as json.Number so meter numbers beyond 2^53
// survive intact.
func decodePayload(body []byte) (any, error) {
	d := json.NewDecoder(bytes.NewReader(body))
	d.UseNumber()

	var payload any
	if err := d.Decode(&payload); err != nil {
		return nil, err
	}
	if _, err := d.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after JSON value")
	}
	return payload, nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, token string) (*resty.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetQueryParams(params).
		Get(path)
	c.observe(EndpointReadings, resp, start)
	return resp, err
}

func (c *Client) login(ctx context.Context) (string, error) {
	initial, err := c.requestLoginToken(ctx)
	if err != nil {
		return "", err
	}

	token, err := c.requestUnitToken(ctx, initial)
	if err != nil {
		return "", err
	}

	c.storeToken(token)
	c.logger.WithField("portal_id", c.cfg.PortalID).Info("Logged in to poschodoch.sk")
	return token, nil
}

func (c *Client) requestLoginToken(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"username": c.cfg.Username,
			"password": c.cfg.Password,
		}).
		Post(loginPath)
	c.observe(EndpointLogin, resp, start)
	if err != nil {
		return "", &AuthError{Step: EndpointLogin, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return "", &AuthError{Step: EndpointLogin, StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	token, err := pickToken(resp.Body(), loginTokenFields)
	if err != nil {
		return "", &AuthError{Step: EndpointLogin, StatusCode: resp.StatusCode(), Err: err}
	}
	return token, nil
}

// requestUnitToken exchanges the login token for one scoped to the portal.
// The endpoint answers with a JSON body declared as text, so the body is
// decoded without looking at Content-Type.
func (c *Client) requestUnitToken(ctx context.Context, loginToken string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+loginToken).
		SetQueryParam("portalId", c.cfg.PortalID).
		Post(changeUnitPath)
	c.observe(EndpointChangeUnit, resp, start)
	if err != nil {
		return "", &AuthError{Step: EndpointChangeUnit, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return "", &AuthError{Step: EndpointChangeUnit, StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	token, err := pickToken(resp.Body(), changeUnitTokenFields)
	if err != nil {
		return "", &AuthError{Step: EndpointChangeUnit, StatusCode: resp.StatusCode(), Err: err}
	}
	return token, nil
}

func (c *Client) cachedToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token == "" {
		return ""
	}
	if !c.expiresAt.IsZero() && !c.now().Add(expirySkew).Before(c.expiresAt) {
		return ""
	}
	return c.token
}

func (c *Client) storeToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = tokenExpiry(token)
}

// invalidateToken drops the cached token unless another caller already
// replaced it.
func (c *Client) invalidateToken(stale string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == stale {
		c.token = ""
		c.expiresAt = time.Time{}
	}
}

func (c *Client) observe(endpoint string, resp *resty.Response, start time.Time) {
	if c.observer == nil {
		return
	}
	code := 0
	if resp != nil {
		code = resp.StatusCode()
	}
	c.observer.ObserveUpstreamRequest(endpoint, code, time.Since(start))
}
