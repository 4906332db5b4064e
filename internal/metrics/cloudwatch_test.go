package metrics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"marketflow/logger"
)

func captureCloudWatch(t *testing.T, start time.Time) *[][]cwtypes.MetricDatum {
	t.Helper()

	prevState := cwState.Load()
	cwState.Store(&cloudWatchState{client: &cloudwatch.Client{}, namespace: "MarketFlow"})
	t.Cleanup(func() { cwState.Store(prevState) })

	resetMetricPublishTimes()
	t.Cleanup(resetMetricPublishTimes)

	originalInterval := cloudWatchPublishInterval
	cloudWatchPublishInterval = 50 * time.Millisecond
	t.Cleanup(func() { cloudWatchPublishInterval = originalInterval })

	timeNow = func() time.Time { return start }
	t.Cleanup(func() { timeNow = time.Now })

	batches := make([][]cwtypes.MetricDatum, 0)
	publishMetricsFunc = func(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
		copyData := make([]cwtypes.MetricDatum, len(data))
		copy(copyData, data)
		batches = append(batches, copyData)
	}
	t.Cleanup(func() { publishMetricsFunc = publishMetrics })
	return &batches
}

func TestPublishMetricDatumThrottlesToInterval(t *testing.T) {
	base := time.Now()
	batches := captureCloudWatch(t, base)

	metric := Metric{Component: "fetch", Name: MetricFetchSuccess, Timestamp: base, Fields: logger.Fields{"unit": "count"}}
	publishMetricDatum(metric, 1)

	timeNow = func() time.Time { return base.Add(25 * time.Millisecond) }
	publishMetricDatum(metric, 2)

	if len(*batches) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(*batches))
	}
	datum := (*batches)[0][0]
	if datum.MetricName == nil || *datum.MetricName != MetricFetchSuccess {
		t.Fatalf("unexpected metric name: %v", datum.MetricName)
	}
	if datum.Value == nil || *datum.Value != 1 {
		t.Fatalf("unexpected metric value: %v", datum.Value)
	}
}

func TestPublishMetricDatumAllowsAfterInterval(t *testing.T) {
	base := time.Now()
	batches := captureCloudWatch(t, base)

	metric := Metric{Component: "fetch", Name: MetricFetchSuccess, Timestamp: base}
	publishMetricDatum(metric, 1)

	timeNow = func() time.Time { return base.Add(75 * time.Millisecond) }
	publishMetricDatum(metric, 2)

	if len(*batches) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(*batches))
	}
	if v := (*batches)[1][0].Value; v == nil || *v != 2 {
		t.Fatalf("unexpected metric value: %v", v)
	}
}

func TestPublishThrottleIsPerDimension(t *testing.T) {
	base := time.Now()
	batches := captureCloudWatch(t, base)

	publishMetricDatum(Metric{Component: "fetch", Name: MetricProviderFailure, Fields: logger.Fields{"provider": "sina"}}, 1)
	publishMetricDatum(Metric{Component: "fetch", Name: MetricProviderFailure, Fields: logger.Fields{"provider": "tencent"}}, 1)

	if len(*batches) != 2 {
		t.Fatalf("expected one publish per provider, got %d", len(*batches))
	}
	datum := (*batches)[0][0]
	if datum.Unit != cwtypes.StandardUnitCount {
		t.Fatalf("expected Count unit, got %s", datum.Unit)
	}
	if len(datum.Dimensions) != 2 {
		t.Fatalf("expected component and provider dimensions, got %d", len(datum.Dimensions))
	}
}

func TestPublishSkippedWithoutClient(t *testing.T) {
	batches := captureCloudWatch(t, time.Now())
	cwState.Store(&cloudWatchState{})

	publishMetricDatum(Metric{Component: "fetch", Name: MetricFetchSuccess}, 1)
	if len(*batches) != 0 {
		t.Fatalf("expected no publish without a client")
	}
}

func TestDashboardBodyIsValidJSON(t *testing.T) {
	body, err := dashboardBody("MarketFlow", "ap-east-1")
	if err != nil {
		t.Fatalf("dashboardBody: %v", err)
	}
	var decoded struct {
		Widgets []map[string]any `json:"widgets"`
	}
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(decoded.Widgets) != len(dashboardWidgets) {
		t.Fatalf("expected %d widgets, got %d", len(dashboardWidgets), len(decoded.Widgets))
	}
}

func TestMetricUnitFromString(t *testing.T) {
	if u, ok := metricUnitFromString("Percent"); !ok || u != cwtypes.StandardUnitPercent {
		t.Fatalf("unexpected unit %s", u)
	}
	if _, ok := metricUnitFromString("furlongs"); ok {
		t.Fatalf("expected unknown unit to be rejected")
	}
}
