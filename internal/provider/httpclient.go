package provider

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	appconfig "marketflow/config"
	"marketflow/logger"
)

// BrowserUserAgent is sent by every outbound request; several endpoints
// reject default Go agents.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var gzipMagic = []byte{0x1f, 0x8b}

// NewRestyClient builds a client with an explicit timeout, browser headers
// and gzip/brotli decoding. Callers decode resp.Body() themselves because
// resty parses SetResult before user response middleware runs.
func NewRestyClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeaders(map[string]string{
			"Accept":          "application/json, text/plain, text/html, */*",
			"Accept-Encoding": "gzip, br",
			"User-Agent":      BrowserUserAgent,
		}).
		OnAfterResponse(DecompressMiddleware)
}

// DecompressMiddleware inflates brotli bodies in place, and gzip bodies that
// resty has not already inflated.
func DecompressMiddleware(_ *resty.Client, resp *resty.Response) error {
	var reader io.ReadCloser
	var err error

	switch resp.Header().Get("Content-Encoding") {
	case "br":
		reader = io.NopCloser(brotli.NewReader(bytes.NewReader(resp.Body())))
	case "gzip":
		if !bytes.HasPrefix(resp.Body(), gzipMagic) {
			return nil
		}
		reader, err = gzip.NewReader(bytes.NewReader(resp.Body()))
		if err != nil {
			return err
		}
		defer reader.Close()
	default:
		return nil
	}

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	resp.SetBody(decompressed)
	return nil
}

func newLimiter(cfg appconfig.RateLimitConfig) *rate.Limiter {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// httpSource is the shared plumbing every adapter embeds.
type httpSource struct {
	name    string
	cfg     appconfig.ProviderConfig
	client  *resty.Client
	limiter *rate.Limiter
	log     *logger.Log
}

func newHTTPSource(name string, cfg appconfig.ProviderConfig) httpSource {
	return httpSource{
		name:    name,
		cfg:     cfg,
		client:  NewRestyClient(cfg.BaseURL, cfg.Timeout),
		limiter: newLimiter(cfg.RateLimit),
		log:     logger.GetLogger(),
	}
}

func (s *httpSource) Name() string {
	return s.name
}

// get waits on the limiter, performs one GET and returns the decoded body.
func (s *httpSource) get(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &SourceError{Provider: s.name, Err: err}
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		return nil, &SourceError{Provider: s.name, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, sourceErr(s.name, "unexpected status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}

// fetchWithRetry runs attempt under the adapter's retry policy.
func (s *httpSource) fetchWithRetry(ctx context.Context, code string, attempt func(context.Context) ([][]string, error)) ([][]string, error) {
	var rows [][]string
	err := Retry(ctx, s.cfg.Retry, func(ctx context.Context, n int) error {
		var err error
		rows, err = attempt(ctx)
		if err != nil && n < s.cfg.Retry.MaxAttempts && IsRetryable(err) {
			s.log.WithComponent("provider").WithInstrument(code).WithFields(logger.Fields{
				"provider": s.name,
				"attempt":  n,
			}).WithError(err).Debug("provider attempt failed; retrying")
		}
		return err
	})
	return rows, err
}
