// Package store persists bar series and the instrument registry as CSV files.
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"marketflow/internal/model"
)

// BarStore loads and replaces the full bar history of an instrument.
type BarStore interface {
	Load(code string) ([]model.DailyBar, error)
	Save(code string, bars []model.DailyBar) error
}

// BarHeader is the on-disk column order.
var BarHeader = []string{"日期", "开盘", "最高", "最低", "收盘", "成交量", "成交额", "振幅", "涨跌幅", "涨跌额", "换手率"}

// barColumns lines BarHeader up with canonical names and decimal places.
var barColumns = []struct {
	canonical string
	places    int32
}{
	{model.ColDate, 0},
	{model.ColOpen, 4},
	{model.ColHigh, 4},
	{model.ColLow, 4},
	{model.ColClose, 4},
	{model.ColVolume, 0},
	{model.ColAmount, 2},
	{model.ColAmplitude, 4},
	{model.ColPctChange, 4},
	{model.ColPriceChange, 4},
	{model.ColTurnoverRate, 4},
}

// CSVBarStore keeps one <code>.csv per instrument under dir. It assumes a
// single writer per process.
type CSVBarStore struct {
	dir string
}

func NewCSVBarStore(dir string) *CSVBarStore {
	return &CSVBarStore{dir: dir}
}

func (s *CSVBarStore) Path(code string) string {
	return filepath.Join(s.dir, code+".csv")
}

// Load returns nil bars without error when the instrument has no file yet.
func (s *CSVBarStore) Load(code string) ([]model.DailyBar, error) {
	f, err := os.Open(s.Path(code))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bars for %s: %w", code, err)
	}
	defer f.Close()

	return ReadBars(f)
}

func (s *CSVBarStore) Save(code string, bars []model.DailyBar) error {
	return writeAtomic(s.Path(code), func(f *os.File) error {
		return WriteBars(f, bars)
	})
}

// ReadBars parses a bar CSV. Columns are matched by header, either the
// Chinese names in BarHeader or canonical names.
func ReadBars(r io.Reader) ([]model.DailyBar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")
		for j, col := range barColumns {
			if name == BarHeader[j] || name == col.canonical {
				idx[col.canonical] = i
			}
		}
	}
	if _, ok := idx[model.ColDate]; !ok {
		return nil, fmt.Errorf("missing required column %s", BarHeader[0])
	}

	var bars []model.DailyBar
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading csv record: %w", err)
		}

		d, err := model.ParseDate(record[idx[model.ColDate]])
		if err != nil {
			continue
		}
		bar := model.DailyBar{Date: d}
		for _, col := range barColumns[1:] {
			i, ok := idx[col.canonical]
			if !ok || i >= len(record) {
				continue
			}
			v, err := strconv.ParseFloat(record[i], 64)
			if err != nil {
				continue
			}
			setField(&bar, col.canonical, v)
		}
		bars = append(bars, bar)
	}
	return model.DedupeSort(bars), nil
}

// WriteBars writes the header and one rounded row per bar.
func WriteBars(w io.Writer, bars []model.DailyBar) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(BarHeader); err != nil {
		return err
	}
	for _, b := range bars {
		row := make([]string, len(barColumns))
		row[0] = b.DateString()
		for i, col := range barColumns[1:] {
			row[i+1] = FormatNumber(field(b, col.canonical), col.places)
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// FormatNumber rounds half away from zero to places and drops trailing zeros.
func FormatNumber(v float64, places int32) string {
	return decimal.NewFromFloat(v).Round(places).String()
}

func field(b model.DailyBar, col string) float64 {
	switch col {
	case model.ColOpen:
		return b.Open
	case model.ColHigh:
		return b.High
	case model.ColLow:
		return b.Low
	case model.ColClose:
		return b.Close
	case model.ColVolume:
		return b.Volume
	case model.ColAmount:
		return b.Amount
	case model.ColAmplitude:
		return b.Amplitude
	case model.ColPctChange:
		return b.PctChange
	case model.ColPriceChange:
		return b.PriceChange
	case model.ColTurnoverRate:
		return b.TurnoverRate
	}
	return 0
}

func setField(b *model.DailyBar, col string, v float64) {
	switch col {
	case model.ColOpen:
		b.Open = v
	case model.ColHigh:
		b.High = v
	case model.ColLow:
		b.Low = v
	case model.ColClose:
		b.Close = v
	case model.ColVolume:
		b.Volume = v
	case model.ColAmount:
		b.Amount = v
	case model.ColAmplitude:
		b.Amplitude = v
	case model.ColPctChange:
		b.PctChange = v
	case model.ColPriceChange:
		b.PriceChange = v
	case model.ColTurnoverRate:
		b.TurnoverRate = v
	}
}
