// Package rest is the HTTP transport adapter for the chat backend. Retryable
// failures (network, 5xx) go through an exponential backoff inside a circuit
// breaker; 4xx responses are classified once and never retried.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/sociora/sociora-go/internal/apperr"
	"github.com/sociora/sociora-go/internal/session"
)

type Config struct {
	BaseURL            string
	Timeout            time.Duration
	RetryInitial       time.Duration
	RetryMaxElapsed    time.Duration
	MaxIdleConns       int
	IdleConnTimeout    time.Duration
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

type Client struct {
	http     *http.Client
	base     *url.URL
	tokens   session.TokenProvider
	cb       *gobreaker.CircuitBreaker
	log      *zap.SugaredLogger
	conf     Config
	validate *validator.Validate
}

func NewClient(conf Config, tokens session.TokenProvider, log *zap.SugaredLogger) (*Client, error) {
	base, err := url.Parse(conf.BaseURL)
	if err != nil {
		return nil, err
	}
	if conf.Timeout == 0 {
		conf.Timeout = 15 * time.Second
	}
	if conf.RetryInitial == 0 {
		conf.RetryInitial = 500 * time.Millisecond
	}
	if conf.RetryMaxElapsed == 0 {
		conf.RetryMaxElapsed = 30 * time.Second
	}
	if conf.BreakerMaxFailures == 0 {
		conf.BreakerMaxFailures = 5
	}
	if conf.BreakerTimeout == 0 {
		conf.BreakerTimeout = 30 * time.Second
	}
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    conf.MaxIdleConns,
		IdleConnTimeout: conf.IdleConnTimeout,
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "chat-api",
		Timeout: conf.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= conf.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Infow("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &Client{
		http:     &http.Client{Transport: tr, Timeout: conf.Timeout},
		base:     base,
		tokens:   tokens,
		cb:       cb,
		log:      log,
		conf:     conf,
		validate: validator.New(),
	}, nil
}

// do issues one API call. The token is re-read per attempt so a refreshed
// session is picked up mid-retry.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrapf(apperr.ErrValidation, "encode request body: %v", err)
		}
		payload = b
	}

	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	operation := func() error {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return backoff.Permanent(apperr.Wrapf(apperr.ErrAuthExpired, "token provider: %v", err))
		}
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		res, err := c.cb.Execute(func() (any, error) {
			resp, err := c.http.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode >= 500 {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				return nil, apperr.Wrapf(apperr.ErrNetwork, "%s %s: upstream status %d", method, path, resp.StatusCode)
			}
			return resp, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return apperr.Wrapf(apperr.ErrNetwork, "%s %s: circuit open", method, path)
			}
			if apperr.Retryable(err) {
				return err
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return apperr.Wrapf(apperr.ErrNetwork, "%s %s: %v", method, path, err)
		}

		resp := res.(*http.Response)
		defer resp.Body.Close()

		if kindErr := apperr.FromStatus(resp.StatusCode); kindErr != nil {
			io.Copy(io.Discard, resp.Body)
			return backoff.Permanent(apperr.Wrapf(kindErr, "%s %s: status %d", method, path, resp.StatusCode))
		}
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(apperr.Wrapf(apperr.ErrNetwork, "%s %s: decode response: %v", method, path, err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.conf.RetryInitial
	b.MaxElapsedTime = c.conf.RetryMaxElapsed
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}
