package provider

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	appconfig "marketflow/config"
	"marketflow/internal/model"
)

const neteaseTableSelector = "table.table_bg001"

// Netease scrapes the HTML trade history page. Headers are Chinese and are
// passed through untouched for the normalizer to rename.
type Netease struct {
	httpSource
}

func NewNetease(name string, cfg appconfig.ProviderConfig) *Netease {
	return &Netease{httpSource: newHTTPSource(name, cfg)}
}

func (n *Netease) Fetch(ctx context.Context, inst model.Instrument, window model.Window) (*model.RawTable, error) {
	path := "/trade/lsjysj_" + inst.Code + ".html"
	query := map[string]string{
		"start": window.Start.Format("20060102"),
		"end":   window.End.Format("20060102"),
	}

	var columns []string
	rows, err := n.fetchWithRetry(ctx, inst.Code, func(ctx context.Context) ([][]string, error) {
		body, err := n.get(ctx, path, query)
		if err != nil {
			return nil, err
		}
		var rows [][]string
		columns, rows, err = parseNeteaseTable(body)
		if err != nil {
			return nil, &SourceError{Provider: n.name, Err: err}
		}
		if len(rows) == 0 {
			return nil, ErrSourceEmpty
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}

	return &model.RawTable{Source: n.name, Columns: columns, Rows: rows}, nil
}

func parseNeteaseTable(body []byte) ([]string, [][]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}

	table := doc.Find(neteaseTableSelector).First()
	var columns []string
	table.Find("tr").First().Find("th,td").Each(func(_ int, s *goquery.Selection) {
		columns = append(columns, strings.TrimSpace(s.Text()))
	})

	var rows [][]string
	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return
		}
		var row []string
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			row = append(row, strings.ReplaceAll(strings.TrimSpace(td.Text()), ",", ""))
		})
		if len(row) == len(columns) {
			rows = append(rows, row)
		}
	})
	return columns, rows, nil
}
