// Package remote talks to the student service centre: the CAS login flow
// and the academic record page.
package remote

import (
	"context"
	"errors"
	"net/http"
	"time"

	"gradebot/internal/grades"
)

var (
	ErrInvalidLogin   = errors.New("invalid login")
	ErrNotAStudent    = errors.New("not a student")
	ErrTransport      = errors.New("transport failure")
	ErrParse          = errors.New("parse failure")
	ErrSessionExpired = errors.New("session expired")
)

// LoginForm is a fetched login page: its anti-forgery token plus the cookies
// the token is bound to.
type LoginForm struct {
	Token string
	jar   http.CookieJar
}

// Session is an authenticated handle returned by SubmitLogin.
type Session struct {
	ID     string
	client *http.Client
}

// Service is the remote record service as seen by sessions and pollers.
type Service interface {
	FetchLoginForm(ctx context.Context) (LoginForm, error)
	SubmitLogin(ctx context.Context, identity, secret string, form LoginForm) (*Session, error)
	FetchRecords(ctx context.Context, s *Session) ([]grades.Record, error)
}

type Config struct {
	LoginURL   string
	RecordsURL string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	UserAgent  string
}

const (
	DefaultLoginURL   = "https://cas.id.ubc.ca/ubc-cas/login"
	DefaultRecordsURL = "https://ssc.adm.ubc.ca/sscportal/servlets/SRVAcademicRecord"
	defaultUserAgent  = "gradebot/1.0"
)

func (c Config) withDefaults() Config {
	if c.LoginURL == "" {
		c.LoginURL = DefaultLoginURL
	}
	if c.RecordsURL == "" {
		c.RecordsURL = DefaultRecordsURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.Burst <= 0 {
		c.Burst = max(1, int(c.RatePerSec))
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	return c
}
