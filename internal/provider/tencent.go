package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	appconfig "marketflow/config"
	"marketflow/internal/code"
	"marketflow/internal/model"
)

const (
	tencentKlinePath = "/appstock/app/fqkline/get"
	tencentMaxBars   = 640
)

var tencentColumns = []string{"date", "open", "close", "high", "low", "vol"}

type tencentKlineResponse struct {
	Code int                                   `json:"code"`
	Msg  string                                `json:"msg"`
	Data map[string]map[string]json.RawMessage `json:"data"`
}

// Tencent reads the fqkline API. Rows are arrays of
// [date, open, close, high, low, volume(lots), ...] under a key that depends
// on the adjustment mode.
type Tencent struct {
	httpSource
}

func NewTencent(name string, cfg appconfig.ProviderConfig) *Tencent {
	return &Tencent{httpSource: newHTTPSource(name, cfg)}
}

func (t *Tencent) Fetch(ctx context.Context, inst model.Instrument, window model.Window) (*model.RawTable, error) {
	symbol := code.Symbol(inst.Code)
	bars := window.Days()
	if bars > tencentMaxBars || bars <= 0 {
		bars = tencentMaxBars
	}
	param := strings.Join([]string{
		symbol, "day",
		window.Start.Format(model.DateLayout),
		window.End.Format(model.DateLayout),
		fmt.Sprint(bars),
		t.cfg.Adjust,
	}, ",")

	rows, err := t.fetchWithRetry(ctx, inst.Code, func(ctx context.Context) ([][]string, error) {
		body, err := t.get(ctx, tencentKlinePath, map[string]string{"param": param})
		if err != nil {
			return nil, err
		}
		var resp tencentKlineResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, &SourceError{Provider: t.name, Err: err}
		}
		if resp.Code != 0 {
			return nil, sourceErr(t.name, "api code %d: %s", resp.Code, resp.Msg)
		}

		series, ok := resp.Data[symbol]
		if !ok {
			return nil, ErrSourceEmpty
		}
		raw, ok := series[t.cfg.Adjust+"day"]
		if !ok {
			raw, ok = series["day"]
		}
		if !ok {
			return nil, ErrSourceEmpty
		}
		return decodeTencentRows(t.name, raw)
	})
	if err != nil {
		return nil, err
	}

	return &model.RawTable{Source: t.name, Columns: tencentColumns, Rows: rows}, nil
}

// decodeTencentRows keeps the first six cells of every row. Trailing cells
// may be objects (dividend notes) and are ignored.
func decodeTencentRows(provider string, raw json.RawMessage) ([][]string, error) {
	var items [][]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &SourceError{Provider: provider, Err: err}
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		if len(item) < len(tencentColumns) {
			continue
		}
		row := make([]string, len(tencentColumns))
		for i := range tencentColumns {
			switch v := item[i].(type) {
			case string:
				row[i] = v
			case float64:
				row[i] = fmt.Sprint(v)
			default:
				row[i] = ""
			}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, ErrSourceEmpty
	}
	return rows, nil
}
