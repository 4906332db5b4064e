package model

import (
	"marketflow/internal/code"
)

// Instrument is a tradable ETF or stock. Segment and Type are derived from Code.
type Instrument struct {
	Code    string            `json:"code"`
	Name    string            `json:"name"`
	Segment code.Segment      `json:"segment"`
	Type    code.SecurityType `json:"type"`
}

// NewInstrument formats raw and derives the segment and security type.
func NewInstrument(raw, name string) (Instrument, error) {
	c, err := code.Format(raw)
	if err != nil {
		return Instrument{}, err
	}
	return Instrument{
		Code:    c,
		Name:    name,
		Segment: code.Classify(c),
		Type:    code.SecurityTypeOf(c),
	}, nil
}

// RegistryEntry is one row of the instrument registry CSV.
type RegistryEntry struct {
	Code           string  `json:"code"`
	Name           string  `json:"name"`
	Size           float64 `json:"size"` // fund size or market cap, 100M yuan
	NextCrawlIndex int     `json:"next_crawl_index"`
}

// Instrument converts the registry row into an Instrument.
func (e RegistryEntry) Instrument() (Instrument, error) {
	return NewInstrument(e.Code, e.Name)
}
