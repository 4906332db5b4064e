package provider

import (
	"context"
	"encoding/json"
	"strings"

	appconfig "marketflow/config"
	"marketflow/internal/code"
	"marketflow/internal/model"
)

const eastmoneyKlinePath = "/api/qt/stock/kline/get"

var eastmoneyColumns = []string{"f51", "f52", "f53", "f54", "f55", "f56", "f57", "f58", "f59", "f60", "f61"}

type eastmoneyKlineResponse struct {
	RC   int `json:"rc"`
	Data *struct {
		Code   string   `json:"code"`
		Name   string   `json:"name"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// Eastmoney reads the push2his kline API. Each kline is a comma-joined
// f51..f61 record; volume is in lots.
type Eastmoney struct {
	httpSource
}

func NewEastmoney(name string, cfg appconfig.ProviderConfig) *Eastmoney {
	return &Eastmoney{httpSource: newHTTPSource(name, cfg)}
}

func eastmoneyAdjust(adjust string) string {
	switch adjust {
	case "qfq":
		return "1"
	case "hfq":
		return "2"
	default:
		return "0"
	}
}

func (e *Eastmoney) Fetch(ctx context.Context, inst model.Instrument, window model.Window) (*model.RawTable, error) {
	query := map[string]string{
		"secid":   code.EastmoneySecID(inst.Code),
		"fields1": "f1,f2,f3,f4,f5,f6",
		"fields2": strings.Join(eastmoneyColumns, ","),
		"klt":     "101",
		"fqt":     eastmoneyAdjust(e.cfg.Adjust),
		"beg":     window.Start.Format("20060102"),
		"end":     window.End.Format("20060102"),
		"lmt":     "10000",
	}

	rows, err := e.fetchWithRetry(ctx, inst.Code, func(ctx context.Context) ([][]string, error) {
		body, err := e.get(ctx, eastmoneyKlinePath, query)
		if err != nil {
			return nil, err
		}
		var resp eastmoneyKlineResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, &SourceError{Provider: e.name, Err: err}
		}
		if resp.Data == nil || len(resp.Data.Klines) == 0 {
			return nil, ErrSourceEmpty
		}
		rows := make([][]string, 0, len(resp.Data.Klines))
		for _, line := range resp.Data.Klines {
			rows = append(rows, strings.Split(line, ","))
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}

	return &model.RawTable{Source: e.name, Columns: eastmoneyColumns, Rows: rows}, nil
}
