package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	appconfig "marketflow/config"
	"marketflow/logger"
)

type cloudWatchState struct {
	client        *cloudwatch.Client
	namespace     string
	dashboardName string
	region        string
}

var cwState atomic.Pointer[cloudWatchState]

// A metric/dimension series is published at most once per interval.
var (
	cloudWatchPublishInterval = time.Minute
	timeNow                   = time.Now
	publishMetricsFunc        = publishMetrics

	lastPublishMu sync.Mutex
	lastPublish   = make(map[string]time.Time)
)

func init() {
	cwState.Store(&cloudWatchState{namespace: "MarketFlow", dashboardName: "MarketFlow"})
}

func resetMetricPublishTimes() {
	lastPublishMu.Lock()
	lastPublish = make(map[string]time.Time)
	lastPublishMu.Unlock()
}

// InitCloudWatch creates the CloudWatch client and dashboard. Failure only
// disables publishing; it is logged and never returned.
func InitCloudWatch(ctx context.Context, cfg appconfig.CloudWatchConfig) {
	log := logger.GetLogger().WithComponent("cloudwatch")
	if !cfg.Enabled {
		return
	}

	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	state := *cwState.Load()
	state.client = cloudwatch.NewFromConfig(awsCfg)
	if cfg.Namespace != "" {
		state.namespace = cfg.Namespace
	}
	if cfg.Dashboard != "" {
		state.dashboardName = cfg.Dashboard
	}
	state.region = awsCfg.Region
	if state.region == "" {
		state.region = region
	}
	cwState.Store(&state)

	log.WithFields(logger.Fields{
		"region":    state.region,
		"namespace": state.namespace,
	}).Info("initialized CloudWatch client")

	if err := PutDashboard(ctx); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}

// EmitMetric logs the metric, hands it to registered handlers and publishes
// numeric values to CloudWatch when initialised.
func EmitMetric(log *logger.Log, component string, metric string, value interface{}, metricType string, fields logger.Fields) {
	event, ok := recordMetric(log, component, metric, value, metricType, fields)
	if !ok {
		return
	}

	numeric, ok := toFloat64(event.Value)
	if !ok {
		return
	}
	publishMetricDatum(event, numeric)
}

// dashboardWidgets are the series shown on the generated dashboard.
var dashboardWidgets = []struct {
	title     string
	component string
	metrics   []string
}{
	{"Fetch outcomes", "fetch", []string{MetricFetchSuccess, MetricFetchNoOp, MetricFetchExhausted, MetricFetchInvalid}},
	{"Provider failures", "fetch", []string{MetricProviderFailure}},
	{"Scoring", "score", []string{MetricScored, MetricInsufficient, MetricSignals}},
	{"Notifications", "notify", []string{MetricNotifySent, MetricNotifyFailed, MetricNotifySkipped}},
	{"Host", "report", []string{"cpu_percent", "memory_mb", "disk_mb"}},
}

func dashboardBody(namespace, region string) (string, error) {
	type widget struct {
		Type       string         `json:"type"`
		X          int            `json:"x"`
		Y          int            `json:"y"`
		Width      int            `json:"width"`
		Height     int            `json:"height"`
		Properties map[string]any `json:"properties"`
	}

	widgets := make([]widget, 0, len(dashboardWidgets))
	for i, w := range dashboardWidgets {
		series := make([][]string, 0, len(w.metrics))
		for _, m := range w.metrics {
			series = append(series, []string{namespace, m, "component", w.component})
		}
		widgets = append(widgets, widget{
			Type:   "metric",
			X:      (i % 2) * 12,
			Y:      (i / 2) * 6,
			Width:  12,
			Height: 6,
			Properties: map[string]any{
				"title":   w.title,
				"region":  region,
				"metrics": series,
				"stat":    "Sum",
				"period":  300,
				"view":    "timeSeries",
			},
		})
	}

	body, err := json.Marshal(map[string]any{"widgets": widgets})
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// PutDashboard creates or replaces the configured dashboard.
func PutDashboard(ctx context.Context) error {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return nil
	}

	body, err := dashboardBody(state.namespace, state.region)
	if err != nil {
		return fmt.Errorf("failed to render dashboard: %w", err)
	}

	_, err = state.client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(state.dashboardName),
		DashboardBody: aws.String(body),
	})
	return err
}

// seriesKey identifies a metric/dimension combination for throttling.
func seriesKey(component, name string, dims []cwtypes.Dimension) string {
	parts := make([]string, 0, len(dims))
	for _, d := range dims {
		parts = append(parts, aws.ToString(d.Name)+"="+aws.ToString(d.Value))
	}
	sort.Strings(parts)
	return component + "/" + name + "{" + strings.Join(parts, ",") + "}"
}

func publishMetricDatum(metric Metric, value float64) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	unit := cwtypes.StandardUnitCount
	if raw, ok := metric.Fields["unit"].(string); ok {
		if parsed, found := metricUnitFromString(raw); found {
			unit = parsed
		}
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(metric.Component)}}
	for k, v := range metric.Fields {
		if k == "unit" {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	key := seriesKey(metric.Component, metric.Name, dims)
	now := timeNow()
	lastPublishMu.Lock()
	if last, ok := lastPublish[key]; ok && now.Sub(last) < cloudWatchPublishInterval {
		lastPublishMu.Unlock()
		return
	}
	lastPublish[key] = now
	lastPublishMu.Unlock()

	publishMetricsFunc(context.Background(), state, []cwtypes.MetricDatum{{
		MetricName: aws.String(metric.Name),
		Dimensions: dims,
		Timestamp:  aws.Time(metric.Timestamp),
		Unit:       unit,
		Value:      aws.Float64(value),
	}})
}

func publishMetrics(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
	if state == nil || state.client == nil || len(data) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	}); err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
	}
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func metricUnitFromString(unit string) (cwtypes.StandardUnit, bool) {
	switch strings.ToLower(unit) {
	case "count":
		return cwtypes.StandardUnitCount, true
	case "percent":
		return cwtypes.StandardUnitPercent, true
	case "seconds":
		return cwtypes.StandardUnitSeconds, true
	case "milliseconds":
		return cwtypes.StandardUnitMilliseconds, true
	case "megabytes":
		return cwtypes.StandardUnitMegabytes, true
	case "bytes":
		return cwtypes.StandardUnitBytes, true
	default:
		return cwtypes.StandardUnitCount, false
	}
}
