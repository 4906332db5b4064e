package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"

	"marketflow/internal/code"
)

const eastmoneyQuotePath = "/api/qt/stock/get"

type eastmoneyQuoteResponse struct {
	RC   int `json:"rc"`
	Data *struct {
		TotalShares       float64 `json:"f84"`
		CirculatingShares float64 `json:"f85"`
	} `json:"data"`
}

// SharesClient resolves circulating shares from the eastmoney quote API and
// caches answers for a day. It satisfies normalize.SharesLookup.
type SharesClient struct {
	client *resty.Client
	cache  *cache.Cache
}

func NewSharesClient(baseURL string, timeout time.Duration) *SharesClient {
	return &SharesClient{
		client: NewRestyClient(baseURL, timeout),
		cache:  cache.New(24*time.Hour, time.Hour),
	}
}

func (s *SharesClient) CirculatingShares(ctx context.Context, c string) (float64, error) {
	if v, ok := s.cache.Get(c); ok {
		return v.(float64), nil
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"secid":  code.EastmoneySecID(c),
			"fields": "f84,f85",
		}).
		Get(eastmoneyQuotePath)
	if err != nil {
		return 0, &SourceError{Provider: "eastmoney", Err: err}
	}
	if resp.IsError() {
		return 0, sourceErr("eastmoney", "unexpected status %d", resp.StatusCode())
	}

	var quote eastmoneyQuoteResponse
	if err := json.Unmarshal(resp.Body(), &quote); err != nil {
		return 0, &SourceError{Provider: "eastmoney", Err: err}
	}
	if quote.Data == nil || quote.Data.CirculatingShares <= 0 {
		return 0, ErrSourceEmpty
	}

	s.cache.Set(c, quote.Data.CirculatingShares, cache.DefaultExpiration)
	return quote.Data.CirculatingShares, nil
}
