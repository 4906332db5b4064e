package provider

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "marketflow/config"
	"marketflow/internal/model"
)

func testProviderConfig(baseURL string) appconfig.ProviderConfig {
	return appconfig.ProviderConfig{
		BaseURL:   baseURL,
		Timeout:   2 * time.Second,
		Adjust:    "qfq",
		RateLimit: appconfig.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 10},
		Retry: appconfig.RetryConfig{
			MaxAttempts:       2,
			BaseDelay:         time.Millisecond,
			MaxDelay:          5 * time.Millisecond,
			BackoffMultiplier: 2,
		},
	}
}

func testInstrument(t *testing.T) model.Instrument {
	t.Helper()
	inst, err := model.NewInstrument("510300", "沪深300ETF")
	require.NoError(t, err)
	return inst
}

func testWindow() model.Window {
	return model.Window{
		Start: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
	}
}

func TestEastmoneyFetch(t *testing.T) {
	var query atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, eastmoneyKlinePath, r.URL.Path)
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla")
		query.Store(r.URL.Query())
		w.Write([]byte(`{"rc":0,"data":{"code":"510300","klines":[
			"2024-01-02,3.50,3.55,3.60,3.48,10000,3550000.0,3.40,1.43,0.05,0.80",
			"2024-01-03,3.55,3.52,3.57,3.50,12000,4224000.0,1.97,-0.85,-0.03,0.96"]}}`))
	}))
	defer srv.Close()

	p := NewEastmoney("eastmoney", testProviderConfig(srv.URL))
	table, err := p.Fetch(context.Background(), testInstrument(t), testWindow())
	require.NoError(t, err)

	assert.Equal(t, "eastmoney", table.Source)
	assert.Len(t, table.Columns, 11)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, "2024-01-03", table.Rows[1][0])

	q := query.Load().(url.Values)
	assert.Equal(t, []string{"1.510300"}, q["secid"])
	assert.Equal(t, []string{"1"}, q["fqt"])
	assert.Equal(t, []string{"20240102"}, q["beg"])
}

func TestEastmoneyNullDataIsEmpty(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"rc":0,"data":null}`))
	}))
	defer srv.Close()

	p := NewEastmoney("eastmoney", testProviderConfig(srv.URL))
	_, err := p.Fetch(context.Background(), testInstrument(t), testWindow())
	require.ErrorIs(t, err, ErrSourceEmpty)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "empty replies are not retried")
}

func TestServerErrorIsRetriedThenSourceError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewSina("sina", testProviderConfig(srv.URL))
	_, err := p.Fetch(context.Background(), testInstrument(t), testWindow())

	var srcErr *SourceError
	require.True(t, errors.As(err, &srcErr))
	assert.Equal(t, "sina", srcErr.Provider)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSinaFiltersToWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sh510300", r.URL.Query().Get("symbol"))
		w.Write([]byte(`[
			{"day":"2023-12-29","open":"3.4","high":"3.5","low":"3.3","close":"3.45","volume":"900000"},
			{"day":"2024-01-02","open":"3.5","high":"3.6","low":"3.48","close":"3.55","volume":"1000000"}]`))
	}))
	defer srv.Close()

	p := NewSina("sina", testProviderConfig(srv.URL))
	table, err := p.Fetch(context.Background(), testInstrument(t), testWindow())
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())
	assert.Equal(t, "2024-01-02", table.Rows[0][0])
}

func TestSinaNullIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("null"))
	}))
	defer srv.Close()

	p := NewSina("sina", testProviderConfig(srv.URL))
	_, err := p.Fetch(context.Background(), testInstrument(t), testWindow())
	assert.ErrorIs(t, err, ErrSourceEmpty)
}

func TestTencentFetchGzip(t *testing.T) {
	payload := `{"code":0,"msg":"","data":{"sh510300":{"qfqday":[
		["2024-01-02","3.50","3.55","3.60","3.48","10000.000"],
		["2024-01-03","3.55","3.52","3.57","3.50","12000.000",{"nd":"2023"}]]}}}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("param"), "sh510300,day,2024-01-02,2024-01-05")
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		gz.Write([]byte(payload))
		gz.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	p := NewTencent("tencent", testProviderConfig(srv.URL))
	table, err := p.Fetch(context.Background(), testInstrument(t), testWindow())
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, []string{"2024-01-03", "3.55", "3.52", "3.57", "3.50", "12000.000"}, table.Rows[1])
}

func TestNeteaseParsesTable(t *testing.T) {
	page := `<html><body><table class="table_bg001 border_box limit_sale">
<tr><th>日期</th><th>开盘价</th><th>最高价</th><th>最低价</th><th>收盘价</th><th>成交量(手)</th><th>成交金额(万元)</th></tr>
<tr><td>2024-01-03</td><td>3.55</td><td>3.57</td><td>3.50</td><td>3.52</td><td>12,000</td><td>422.4</td></tr>
<tr><td>2024-01-02</td><td>3.50</td><td>3.60</td><td>3.48</td><td>3.55</td><td>10,000</td><td>355.0</td></tr>
</table></body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trade/lsjysj_510300.html", r.URL.Path)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	p := NewNetease("netease", testProviderConfig(srv.URL))
	table, err := p.Fetch(context.Background(), testInstrument(t), testWindow())
	require.NoError(t, err)
	assert.Equal(t, "成交量(手)", table.Columns[5])
	require.Equal(t, 2, table.Len())
	assert.Equal(t, "12000", table.Rows[0][5])
}

func TestBuildFollowsPriority(t *testing.T) {
	cfg := appconfig.Default()
	cfg.Fetch.SourcePriority = []string{"tencent", "eastmoney"}

	entries, err := Build(&cfg)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "tencent", entries[0].Provider.Name())
	assert.Equal(t, "eastmoney", entries[1].Provider.Name())

	cfg.Fetch.SourcePriority = []string{"yahoo"}
	_, err = Build(&cfg)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestBackoff(t *testing.T) {
	cfg := appconfig.RetryConfig{BaseDelay: time.Second, MaxDelay: 3 * time.Second, BackoffMultiplier: 2}
	assert.Equal(t, time.Second, Backoff(cfg, 1))
	assert.Equal(t, 2*time.Second, Backoff(cfg, 2))
	assert.Equal(t, 3*time.Second, Backoff(cfg, 3))
}

func TestSharesClientCaches(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"rc":0,"data":{"f84":2000000000,"f85":1500000000}}`))
	}))
	defer srv.Close()

	s := NewSharesClient(srv.URL, time.Second)
	for i := 0; i < 2; i++ {
		v, err := s.CirculatingShares(context.Background(), "510300")
		require.NoError(t, err)
		assert.Equal(t, 1.5e9, v)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
