package provider

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	appconfig "marketflow/config"
	"marketflow/internal/code"
	"marketflow/internal/model"
)

const (
	sinaKlinePath  = "/quotes_service/api/json_v2.php/CN_MarketData.getKLineData"
	sinaMaxDatalen = 1023
)

var sinaColumns = []string{"day", "open", "high", "low", "close", "volume"}

type sinaKline struct {
	Day    string `json:"day"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

// Sina reads the CN_MarketData KLine API. It only supports "latest N bars",
// so the reply is filtered to the requested window. Volume is in shares and
// there is no amount column.
type Sina struct {
	httpSource
}

func NewSina(name string, cfg appconfig.ProviderConfig) *Sina {
	return &Sina{httpSource: newHTTPSource(name, cfg)}
}

func (s *Sina) Fetch(ctx context.Context, inst model.Instrument, window model.Window) (*model.RawTable, error) {
	datalen := window.Days() + 10
	if datalen > sinaMaxDatalen {
		datalen = sinaMaxDatalen
	}
	query := map[string]string{
		"symbol":  code.Symbol(inst.Code),
		"scale":   "240",
		"ma":      "no",
		"datalen": strconv.Itoa(datalen),
	}

	rows, err := s.fetchWithRetry(ctx, inst.Code, func(ctx context.Context) ([][]string, error) {
		body, err := s.get(ctx, sinaKlinePath, query)
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(string(body))
		if trimmed == "" || trimmed == "null" {
			return nil, ErrSourceEmpty
		}
		var klines []sinaKline
		if err := json.Unmarshal([]byte(trimmed), &klines); err != nil {
			return nil, &SourceError{Provider: s.name, Err: err}
		}

		rows := make([][]string, 0, len(klines))
		for _, k := range klines {
			d, err := model.ParseDate(k.Day)
			if err != nil || !window.Contains(d) {
				continue
			}
			rows = append(rows, []string{k.Day, k.Open, k.High, k.Low, k.Close, k.Volume})
		}
		if len(rows) == 0 {
			return nil, ErrSourceEmpty
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}

	return &model.RawTable{Source: s.name, Columns: sinaColumns, Rows: rows}, nil
}
