// Package universe rebuilds the instrument registry from the exchange-wide
// ETF list.
package universe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	appconfig "marketflow/config"
	"marketflow/internal/provider"
	"marketflow/logger"
)

const (
	clistPath = "/api/qt/clist/get"
	// etfBoards selects Shanghai and Shenzhen exchange traded funds.
	etfBoards = "b:MK0021,b:MK0022,b:MK0023,b:MK0024"
	maxPages  = 50
)

// Candidate is one row of the upstream ETF list before filtering.
type Candidate struct {
	Code     string
	Name     string
	Price    float64
	Size     float64 // raw upstream unit; ScaleFundSize decides
	ListedAt time.Time
}

// Lister returns every candidate instrument the upstream list knows about.
type Lister interface {
	List(ctx context.Context) ([]Candidate, error)
}

// flexFloat accepts numbers and the "-" eastmoney uses for missing values.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "-" || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type clistRow struct {
	Price  flexFloat `json:"f2"`
	Code   string    `json:"f12"`
	Name   string    `json:"f14"`
	Size   flexFloat `json:"f20"`
	Listed flexFloat `json:"f26"`
}

type clistResponse struct {
	RC   int `json:"rc"`
	Data *struct {
		Total int        `json:"total"`
		Diff  []clistRow `json:"diff"`
	} `json:"data"`
}

// EastmoneyLister pages through the eastmoney clist API.
type EastmoneyLister struct {
	client   *resty.Client
	pageSize int
	log      *logger.Log
}

func NewEastmoneyLister(cfg appconfig.UniverseConfig) *EastmoneyLister {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}
	return &EastmoneyLister{
		client:   provider.NewRestyClient(cfg.ListURL, cfg.Timeout),
		pageSize: pageSize,
		log:      logger.GetLogger(),
	}
}

func (l *EastmoneyLister) List(ctx context.Context) ([]Candidate, error) {
	log := l.log.WithComponent("universe")
	var out []Candidate

	for page := 1; page <= maxPages; page++ {
		rows, total, err := l.page(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("list page %d: %w", page, err)
		}
		for _, r := range rows {
			out = append(out, r.candidate())
		}
		log.WithFields(logger.Fields{"page": page, "rows": len(rows), "total": total}).Debug("fetched universe page")
		if len(rows) == 0 || len(out) >= total {
			break
		}
	}

	if len(out) == 0 {
		return nil, provider.ErrSourceEmpty
	}
	return out, nil
}

func (l *EastmoneyLister) page(ctx context.Context, page int) ([]clistRow, int, error) {
	resp, err := l.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"pn":     strconv.Itoa(page),
			"pz":     strconv.Itoa(l.pageSize),
			"po":     "1",
			"np":     "1",
			"fltt":   "2",
			"invt":   "2",
			"fid":    "f20",
			"fs":     etfBoards,
			"fields": "f2,f12,f14,f20,f26",
		}).
		Get(clistPath)
	if err != nil {
		return nil, 0, &provider.SourceError{Provider: "eastmoney", Err: err}
	}
	if resp.IsError() {
		return nil, 0, &provider.SourceError{Provider: "eastmoney", Err: fmt.Errorf("unexpected status %d", resp.StatusCode())}
	}

	var parsed clistResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, 0, &provider.SourceError{Provider: "eastmoney", Err: err}
	}
	if parsed.Data == nil {
		return nil, 0, nil
	}
	return parsed.Data.Diff, parsed.Data.Total, nil
}

func (r clistRow) candidate() Candidate {
	c := Candidate{
		Code:  r.Code,
		Name:  r.Name,
		Price: float64(r.Price),
		Size:  float64(r.Size),
	}
	if r.Listed > 0 {
		if t, err := time.Parse("20060102", strconv.FormatInt(int64(r.Listed), 10)); err == nil {
			c.ListedAt = t
		}
	}
	return c
}
