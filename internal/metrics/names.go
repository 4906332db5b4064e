package metrics

import "marketflow/logger"

// Metric names shared by the pipeline stages and the dashboard layout.
const (
	MetricFetchSuccess    = "fetch_success"
	MetricFetchNoOp       = "fetch_noop"
	MetricFetchExhausted  = "fetch_exhausted"
	MetricFetchInvalid    = "fetch_invalid"
	MetricProviderFailure = "provider_failure"
	MetricBarsWritten     = "bars_written"
	MetricScored          = "instruments_scored"
	MetricInsufficient    = "insufficient_history"
	MetricSignals         = "signals_confirmed"
	MetricNotifySent      = "notification_sent"
	MetricNotifyFailed    = "notification_failed"
	MetricNotifySkipped   = "notification_skipped"
	MetricTaskDuration    = "task_duration"
	MetricExportObjects   = "export_objects"
	MetricPublished       = "messages_published"
	MetricQuotes          = "quotes_fetched"
)

// EmitProviderFailure counts one failed provider attempt. stage is "fetch"
// or "normalize".
func EmitProviderFailure(log *logger.Log, provider, code, stage string) {
	fields := logger.Fields{"unit": "count"}
	if provider != "" {
		fields["provider"] = provider
	}
	if stage != "" {
		fields["stage"] = stage
	}
	if code != "" {
		fields["instrument"] = code
	}
	EmitMetric(log, "fetch", MetricProviderFailure, 1, "counter", fields)
}

// BatchStats summarises one crawl batch.
type BatchStats struct {
	Success   int
	NoOp      int
	Exhausted int
	Invalid   int
	Failed    int
}

// Total counts every instrument the batch looked at.
func (s BatchStats) Total() int {
	return s.Success + s.NoOp + s.Exhausted + s.Invalid + s.Failed
}

// ReportBatch emits one gauge per outcome and a summary log line, at warn
// level when anything was exhausted or failed.
func ReportBatch(log *logger.Log, stats BatchStats) {
	if log == nil {
		log = logger.GetLogger()
	}
	EmitMetric(log, "fetch", MetricFetchSuccess, stats.Success, "gauge", logger.Fields{"unit": "count"})
	EmitMetric(log, "fetch", MetricFetchNoOp, stats.NoOp, "gauge", logger.Fields{"unit": "count"})
	EmitMetric(log, "fetch", MetricFetchExhausted, stats.Exhausted, "gauge", logger.Fields{"unit": "count"})
	EmitMetric(log, "fetch", MetricFetchInvalid, stats.Invalid, "gauge", logger.Fields{"unit": "count"})

	entry := log.WithComponent("fetch").WithFields(logger.Fields{
		"success":   stats.Success,
		"noop":      stats.NoOp,
		"exhausted": stats.Exhausted,
		"invalid":   stats.Invalid,
		"failed":    stats.Failed,
		"total":     stats.Total(),
	})
	if stats.Exhausted > 0 || stats.Failed > 0 {
		entry.Warn("batch finished with failures")
		return
	}
	entry.Info("batch finished")
}
