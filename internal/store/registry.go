package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"marketflow/internal/code"
	"marketflow/internal/model"
	"marketflow/logger"
)

// RegistryHeader is the registry file header.
var RegistryHeader = []string{"code", "name", "size", "next_crawl_index"}

// LoadRegistry reads the registry CSV. A missing file is an empty registry.
// Rows with an invalid code are skipped with a warning.
func LoadRegistry(path string) ([]model.RegistryEntry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	headerMap := make(map[string]int, len(header))
	for i, name := range header {
		headerMap[name] = i
	}
	codeIdx, hasCode := headerMap["code"]
	if !hasCode {
		return nil, fmt.Errorf("missing required column: code")
	}

	log := logger.GetLogger().WithComponent("registry")
	var entries []model.RegistryEntry
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading csv record: %w", err)
		}

		c, err := code.Format(record[codeIdx])
		if err != nil {
			log.WithFields(logger.Fields{"raw_code": record[codeIdx]}).Warn("skipping registry row with invalid code")
			continue
		}
		entry := model.RegistryEntry{Code: c}
		if i, ok := headerMap["name"]; ok && i < len(record) {
			entry.Name = record[i]
		}
		if i, ok := headerMap["size"]; ok && i < len(record) {
			entry.Size, _ = strconv.ParseFloat(record[i], 64)
		}
		if i, ok := headerMap["next_crawl_index"]; ok && i < len(record) {
			entry.NextCrawlIndex, _ = strconv.Atoi(record[i])
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SaveRegistry replaces the registry file atomically.
func SaveRegistry(path string, entries []model.RegistryEntry) error {
	return writeAtomic(path, func(f *os.File) error {
		w := csv.NewWriter(f)
		if err := w.Write(RegistryHeader); err != nil {
			return err
		}
		for _, e := range entries {
			if err := w.Write([]string{
				e.Code,
				e.Name,
				FormatNumber(e.Size, 2),
				strconv.Itoa(e.NextCrawlIndex),
			}); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
}

// NextBatch picks the n entries crawled the fewest times, breaking ties by
// registry order, and returns them together with a copy of entries whose
// cursors for the picked rows have been advanced. entries is not modified.
func NextBatch(entries []model.RegistryEntry, n int) ([]model.RegistryEntry, []model.RegistryEntry) {
	updated := make([]model.RegistryEntry, len(entries))
	copy(updated, entries)
	if n <= 0 || len(entries) == 0 {
		return nil, updated
	}

	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return entries[order[a]].NextCrawlIndex < entries[order[b]].NextCrawlIndex
	})
	if n > len(order) {
		n = len(order)
	}

	batch := make([]model.RegistryEntry, 0, n)
	for _, i := range order[:n] {
		batch = append(batch, entries[i])
		updated[i].NextCrawlIndex++
	}
	return batch, updated
}
