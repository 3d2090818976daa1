package sources

import (
	"context"
	"errors"
	"net/http"
	"time"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/pkg/cache"
	xhttp "LighthouseMacro/pkg/http"
	applogger "LighthouseMacro/pkg/logger"
)

// Settings configures one adapter.
type Settings struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	Burst             int
	PageSize          int
	Timeout           time.Duration
	Limiters          *Limiters
	Cache             cache.Service
	CacheTTL          time.Duration
	Client            *xhttp.Client
	Logger            *applogger.Logger
}

// base carries what every adapter shares: HTTP client, rate limit, response
// cache and failure classification.
type base struct {
	provider models.Provider
	baseURL  string
	apiKey   string
	pageSize int
	client   *xhttp.Client
	limiters *Limiters
	rps      float64
	burst    int
	cache    cache.Service
	cacheTTL time.Duration
	l        *applogger.Logger
}

func newBase(provider models.Provider, defaultURL string, s Settings) base {
	b := base{
		provider: provider,
		baseURL:  s.BaseURL,
		apiKey:   s.APIKey,
		pageSize: s.PageSize,
		client:   s.Client,
		limiters: s.Limiters,
		rps:      s.RequestsPerSecond,
		burst:    s.Burst,
		cache:    s.Cache,
		cacheTTL: s.CacheTTL,
		l:        s.Logger,
	}
	if b.baseURL == "" {
		b.baseURL = defaultURL
	}
	if b.client == nil {
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		b.client = xhttp.NewClient(xhttp.WithTimeout(timeout))
	}
	if b.limiters == nil {
		b.limiters = NewLimiters()
	}
	if b.l == nil {
		b.l = applogger.Nop()
	}
	return b
}

func (b *base) Provider() models.Provider { return b.provider }

func (b *base) requireKey(seriesID string) error {
	if b.apiKey == "" {
		return apperr.Config("missing credential for provider %s", b.provider).WithSeries(string(b.provider), seriesID)
	}
	return nil
}

// do performs one rate-limited request, consulting the response cache when
// cacheKey is set, and classifies failures.
func (b *base) do(ctx context.Context, seriesID, cacheKey string, opts *xhttp.RequestOptions) ([]byte, error) {
	if b.cache != nil && b.cacheTTL > 0 && cacheKey != "" {
		var cached []byte
		if err := b.cache.Get(ctx, cacheKey, &cached); err == nil {
			b.l.Debug("provider response cache hit",
				applogger.String("provider", string(b.provider)),
				applogger.String("series_id", seriesID),
			)
			return cached, nil
		}
	}

	if err := b.limiters.Wait(ctx, string(b.provider), b.rps, b.burst); err != nil {
		return nil, apperr.Transient(err, "rate limiter wait").WithSeries(string(b.provider), seriesID)
	}

	body, err := b.client.Fetch(ctx, opts)
	if err != nil {
		return nil, b.classify(seriesID, err)
	}

	if b.cache != nil && b.cacheTTL > 0 && cacheKey != "" {
		if err := b.cache.Set(ctx, cacheKey, body, b.cacheTTL); err != nil {
			b.l.Warn("provider response cache write failed", applogger.Error(err))
		}
	}
	return body, nil
}

// classify maps transport and status failures onto the error taxonomy.
func (b *base) classify(seriesID string, err error) error {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		var e *apperr.Error
		switch {
		case se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden:
			e = apperr.Config("provider rejected credential (HTTP %d)", se.StatusCode)
		case se.StatusCode == http.StatusBadRequest || se.StatusCode == http.StatusNotFound:
			e = apperr.UnknownSeries(seriesID, "provider rejected series (HTTP %d): %s", se.StatusCode, se.Body)
		case se.StatusCode == http.StatusRequestTimeout || se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500:
			e = apperr.Transient(err, "provider unavailable")
		default:
			e = apperr.ProviderFormat(err, "unexpected response")
		}
		return e.WithSeries(string(b.provider), seriesID)
	}
	return apperr.Transient(err, "request failed").WithSeries(string(b.provider), seriesID)
}

func (b *base) formatErr(seriesID string, err error, format string, args ...any) error {
	return apperr.ProviderFormat(err, format, args...).WithSeries(string(b.provider), seriesID)
}
