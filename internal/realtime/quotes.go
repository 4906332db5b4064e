// Package realtime pulls intraday quote snapshots from the Tencent quote
// endpoint with a bounded worker pool.
package realtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"golang.org/x/text/encoding/simplifiedchinese"

	appconfig "marketflow/config"
	"marketflow/internal/code"
	"marketflow/internal/metrics"
	"marketflow/internal/model"
	"marketflow/internal/provider"
	"marketflow/logger"
)

// ErrNoQuotes is returned when every chunk failed.
var ErrNoQuotes = errors.New("no quotes returned")

// Field positions in the "~" separated quote payload.
const (
	fieldName      = 1
	fieldCode      = 2
	fieldPrice     = 3
	fieldPrevClose = 4
	fieldOpen      = 5
	fieldVolume    = 6
	fieldTime      = 30
	fieldPct       = 32
	fieldHigh      = 33
	fieldLow       = 34
	fieldAmount    = 37
	minFields      = 38
)

type Client struct {
	client  *resty.Client
	cache   *cache.Cache
	workers int
	chunk   int
	loc     *time.Location
	log     *logger.Log
}

func New(cfg appconfig.RealtimeConfig, loc *time.Location) *Client {
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = 4
	}
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = 50
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		client:  provider.NewRestyClient(cfg.BaseURL, cfg.Timeout),
		cache:   cache.New(ttl, 2*ttl),
		workers: workers,
		chunk:   chunk,
		loc:     loc,
		log:     logger.GetLogger(),
	}
}

// Quotes returns a snapshot per code. Cached quotes are served without a
// request; misses are fetched in chunks by at most MaxWorkers goroutines.
// A failing chunk is logged and skipped.
func (c *Client) Quotes(ctx context.Context, codes []string) (map[string]model.Quote, error) {
	log := c.log.WithComponent("realtime")
	out := make(map[string]model.Quote, len(codes))

	var misses []string
	for _, raw := range codes {
		formatted, err := code.Format(raw)
		if err != nil {
			log.WithFields(logger.Fields{"raw_code": raw}).Warn("skipping invalid code")
			continue
		}
		if q, ok := c.cache.Get(formatted); ok {
			out[formatted] = q.(model.Quote)
			continue
		}
		misses = append(misses, formatted)
	}

	chunks := chunkCodes(misses, c.chunk)
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		failed int
	)
	semaphore := make(chan struct{}, c.workers)

	for _, chunk := range chunks {
		wg.Add(1)
		go func(chunk []string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			quotes, err := c.fetchChunk(ctx, chunk)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				log.WithError(err).WithFields(logger.Fields{"chunk_size": len(chunk), "first": chunk[0]}).Warn("quote chunk failed")
				metrics.EmitProviderFailure(c.log, "tencent_realtime", chunk[0], "quote")
				return
			}
			for _, q := range quotes {
				out[q.Code] = q
				c.cache.Set(q.Code, q, cache.DefaultExpiration)
			}
		}(chunk)
	}
	wg.Wait()

	metrics.EmitMetric(c.log, "realtime", metrics.MetricQuotes, len(out), "gauge", logger.Fields{
		"requested": len(codes),
		"chunks":    len(chunks),
		"failed":    failed,
	})

	if len(out) == 0 && failed > 0 {
		return out, ErrNoQuotes
	}
	return out, nil
}

func (c *Client) fetchChunk(ctx context.Context, codes []string) ([]model.Quote, error) {
	symbols := make([]string, len(codes))
	for i, cd := range codes {
		symbols[i] = code.Symbol(cd)
	}

	resp, err := c.client.R().SetContext(ctx).Get("/q=" + strings.Join(symbols, ","))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}

	body, err := simplifiedchinese.GBK.NewDecoder().Bytes(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("decode GBK body: %w", err)
	}
	return ParseQuotes(body, c.loc), nil
}

// ParseQuotes reads `v_sh510300="1~name~510300~price~...";` lines. Lines
// that are empty or too short (unknown symbols) are skipped.
func ParseQuotes(body []byte, loc *time.Location) []model.Quote {
	var out []model.Quote
	for _, line := range bytes.Split(body, []byte(";")) {
		line = bytes.TrimSpace(line)
		eq := bytes.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		payload := strings.Trim(string(line[eq+1:]), `"`)
		fields := strings.Split(payload, "~")
		if len(fields) < minFields {
			continue
		}
		q, ok := quoteFromFields(fields, loc)
		if ok {
			out = append(out, q)
		}
	}
	return out
}

func quoteFromFields(f []string, loc *time.Location) (model.Quote, bool) {
	c, err := code.Format(f[fieldCode])
	if err != nil {
		return model.Quote{}, false
	}
	num := func(i int) float64 {
		v, _ := strconv.ParseFloat(strings.TrimSpace(f[i]), 64)
		return v
	}
	q := model.Quote{
		Code:      c,
		Name:      strings.TrimSpace(f[fieldName]),
		Price:     num(fieldPrice),
		PrevClose: num(fieldPrevClose),
		Open:      num(fieldOpen),
		High:      num(fieldHigh),
		Low:       num(fieldLow),
		Volume:    num(fieldVolume) * 100, // lots
		Amount:    num(fieldAmount) * 1e4, // 10k yuan
		PctChange: num(fieldPct),
	}
	if ts, err := time.ParseInLocation("20060102150405", f[fieldTime], loc); err == nil {
		q.Timestamp = ts
	}
	return q, true
}

func chunkCodes(codes []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(codes); start += size {
		end := start + size
		if end > len(codes) {
			end = len(codes)
		}
		out = append(out, codes[start:end])
	}
	return out
}
