package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"gradebot/internal/grades"
	logx "gradebot/pkg/logx"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// ticketCookie is set by CAS once credentials are accepted.
const ticketCookie = "TGC"

// maxPage caps how much of a response body is parsed.
const maxPage = 4 << 20

// Client implements Service over HTTP. Every login gets its own cookie jar;
// the rate limiter is shared by all sessions.
type Client struct {
	cfg       Config
	loginURL  *url.URL
	transport http.RoundTripper
	limiter   *rate.Limiter
	log       logx.Logger
}

var _ Service = (*Client)(nil)

type ClientOption func(*Client)

// WithTransport overrides the HTTP transport (tests, proxies).
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) { c.transport = rt }
}

func NewClient(cfg Config, log logx.Logger, opts ...ClientOption) (*Client, error) {
	cfg = cfg.withDefaults()
	lu, err := url.Parse(cfg.LoginURL)
	if err != nil {
		return nil, fmt.Errorf("remote: login url: %w", err)
	}
	if _, err := url.Parse(cfg.RecordsURL); err != nil {
		return nil, fmt.Errorf("remote: records url: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{
		cfg:       cfg,
		loginURL:  lu,
		transport: http.DefaultTransport,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		log:       log.With(logx.String("comp", "remote")),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) httpClient(jar http.CookieJar) *http.Client {
	return &http.Client{Transport: c.transport, Jar: jar, Timeout: c.cfg.Timeout}
}

func (c *Client) do(ctx context.Context, hc *http.Client, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	resp, err := hc.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, req.Method, req.URL.Path, err)
	}
	return resp, nil
}

func (c *Client) FetchLoginForm(ctx context.Context) (LoginForm, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return LoginForm{}, err
	}
	req, err := http.NewRequest(http.MethodGet, c.cfg.LoginURL, nil)
	if err != nil {
		return LoginForm{}, err
	}
	resp, err := c.do(ctx, c.httpClient(jar), req)
	if err != nil {
		return LoginForm{}, err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return LoginForm{}, fmt.Errorf("%w: login page status %d", ErrTransport, resp.StatusCode)
	}
	tok, err := parseLoginToken(io.LimitReader(resp.Body, maxPage))
	if err != nil {
		return LoginForm{}, err
	}
	return LoginForm{Token: tok, jar: jar}, nil
}

// SubmitLogin posts the credentials. Success requires the CAS ticket cookie
// and a readable record page; a ticket without record access is ErrNotAStudent.
func (c *Client) SubmitLogin(ctx context.Context, identity, secret string, form LoginForm) (*Session, error) {
	if form.jar == nil {
		return nil, errors.New("remote: login form was not fetched")
	}
	hc := c.httpClient(form.jar)

	body := url.Values{
		"username":    {identity},
		"password":    {secret},
		"_eventId":    {"submit"},
		"geolocation": {""},
		"execution":   {form.Token},
	}
	req, err := http.NewRequest(http.MethodPost, c.cfg.LoginURL, strings.NewReader(body.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.do(ctx, hc, req)
	if err != nil {
		return nil, err
	}
	drain(resp)

	if !hasCookie(form.jar, c.loginURL, ticketCookie) {
		return nil, ErrInvalidLogin
	}

	req, err = http.NewRequest(http.MethodGet, c.cfg.RecordsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err = c.do(ctx, hc, req)
	if err != nil {
		return nil, err
	}
	drain(resp)
	// CAS answers a user without record access with a redirect back to its login page.
	if resp.StatusCode != http.StatusOK || c.isLoginPage(resp.Request.URL) {
		return nil, ErrNotAStudent
	}

	s := &Session{ID: uuid.NewString(), client: hc}
	c.log.Debug("session established", logx.String("session", s.ID))
	return s, nil
}

func (c *Client) FetchRecords(ctx context.Context, s *Session) ([]grades.Record, error) {
	if s == nil || s.client == nil {
		return nil, ErrSessionExpired
	}
	req, err := http.NewRequest(http.MethodGet, c.cfg.RecordsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, s.client, req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if c.isLoginPage(resp.Request.URL) {
		return nil, ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: record page status %d", ErrTransport, resp.StatusCode)
	}
	return parseRecords(io.LimitReader(resp.Body, maxPage))
}

// isLoginPage reports whether a request was redirected back to CAS.
func (c *Client) isLoginPage(u *url.URL) bool {
	return u != nil && u.Host == c.loginURL.Host && u.Path == c.loginURL.Path
}

func hasCookie(jar http.CookieJar, u *url.URL, name string) bool {
	for _, ck := range jar.Cookies(u) {
		if ck.Name == name && ck.Value != "" {
			return true
		}
	}
	return false
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPage))
	_ = resp.Body.Close()
}
