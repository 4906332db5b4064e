package universe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "marketflow/config"
	"marketflow/internal/model"
	"marketflow/internal/store"
)

func testUniverseConfig(url string) appconfig.UniverseConfig {
	return appconfig.UniverseConfig{
		ListURL:        url,
		Timeout:        2 * time.Second,
		PageSize:       2,
		MinFundSize:    2,
		MinListingDays: 60,
	}
}

func TestEastmoneyListerPages(t *testing.T) {
	pages := map[string]string{
		"1": `{"rc":0,"data":{"total":3,"diff":[
			{"f2":3.912,"f12":"510300","f14":"沪深300ETF","f20":91000000000,"f26":20120528},
			{"f2":"-","f12":"159915","f14":"创业板ETF","f20":"-","f26":20111209}]}}`,
		"2": `{"rc":0,"data":{"total":3,"diff":[
			{"f2":1.05,"f12":"512880","f14":"证券ETF","f20":30000000000,"f26":20160808}]}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != clistPath {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(pages[r.URL.Query().Get("pn")]))
	}))
	defer srv.Close()

	got, err := NewEastmoneyLister(testUniverseConfig(srv.URL)).List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "510300", got[0].Code)
	assert.InDelta(t, 3.912, got[0].Price, 1e-9)
	assert.Equal(t, time.Date(2012, 5, 28, 0, 0, 0, 0, time.UTC), got[0].ListedAt)
	assert.Zero(t, got[1].Price)
	assert.Equal(t, "512880", got[2].Code)
}

func TestEastmoneyListerEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rc":0,"data":null}`))
	}))
	defer srv.Close()

	_, err := NewEastmoneyLister(testUniverseConfig(srv.URL)).List(context.Background())
	require.Error(t, err)
}

type staticLister []Candidate

func (s staticLister) List(context.Context) ([]Candidate, error) {
	return s, nil
}

func TestBuildFilters(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(-3, 0, 0)
	candidates := []Candidate{
		{Code: "510300", Name: "沪深300ETF", Price: 3.9, Size: 9.1e10, ListedAt: old},
		{Code: "sh512880", Name: "证券ETF", Price: 1.0, Size: 3e10, ListedAt: old},
		{Code: "510300", Name: "沪深300ETF", Price: 3.9, Size: 9.1e10, ListedAt: old},
		{Code: "600001", Name: "*ST某某", Price: 2, Size: 5e9, ListedAt: old},
		{Code: "600002", Name: "某某退", Price: 2, Size: 5e9, ListedAt: old},
		{Code: "159915", Name: "创业板ETF", Price: 0, Size: 2e10, ListedAt: old},
		{Code: "511880", Name: "银华日利", Price: 100, Size: 8e10, ListedAt: old},
		{Code: "159999", Name: "新ETF", Price: 1, Size: 5e9, ListedAt: now.AddDate(0, 0, -10)},
		{Code: "512000", Name: "小ETF", Price: 1, Size: 1e8, ListedAt: old},
		{Code: "abc", Name: "bad", Price: 1, Size: 5e9, ListedAt: old},
	}

	r := NewRefresher(staticLister(candidates), testUniverseConfig(""))
	r.now = func() time.Time { return now }

	existing := []model.RegistryEntry{
		{Code: "512880", Name: "证券ETF", Size: 300, NextCrawlIndex: 4},
		{Code: "588000", Name: "科创50ETF", Size: 500, NextCrawlIndex: 3},
	}
	entries, stats := r.Build(candidates, existing)

	require.Len(t, entries, 2)
	assert.Equal(t, "510300", entries[0].Code)
	assert.InDelta(t, 910, entries[0].Size, 1e-6)
	assert.Equal(t, 3, entries[0].NextCrawlIndex, "new entries start at the lowest existing cursor")
	assert.Equal(t, "512880", entries[1].Code)
	assert.Equal(t, 4, entries[1].NextCrawlIndex, "existing cursor is preserved")

	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, map[string]int{
		ReasonDuplicate:   1,
		ReasonST:          1,
		ReasonDelisting:   1,
		ReasonSuspended:   1,
		ReasonMoneyMarket: 1,
		ReasonNewListing:  1,
		ReasonSmallFund:   1,
		ReasonInvalidCode: 1,
	}, stats.Excluded)
}

func TestRefreshWritesRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.csv")
	require.NoError(t, store.SaveRegistry(path, []model.RegistryEntry{{Code: "510300", Name: "old", Size: 1, NextCrawlIndex: 7}}))

	r := NewRefresher(staticLister{
		{Code: "510300", Name: "沪深300ETF", Price: 3.9, Size: 910},
		{Code: "510500", Name: "中证500ETF", Price: 6.1, Size: 380},
	}, testUniverseConfig(""))

	stats, err := r.Refresh(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Kept)

	loaded, err := store.LoadRegistry(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, 7, loaded[0].NextCrawlIndex)
	assert.Equal(t, "沪深300ETF", loaded[0].Name)
	assert.Equal(t, 7, loaded[1].NextCrawlIndex)
}
