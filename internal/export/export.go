// Package export uploads parquet snapshots of updated bar series to S3.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "marketflow/config"
	"marketflow/internal/metrics"
	"marketflow/internal/model"
	"marketflow/logger"
)

// BarRecord is one parquet row.
type BarRecord struct {
	Code         string  `parquet:"name=code, type=BYTE_ARRAY, convertedtype=UTF8"`
	Date         string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Open         float64 `parquet:"name=open, type=DOUBLE"`
	High         float64 `parquet:"name=high, type=DOUBLE"`
	Low          float64 `parquet:"name=low, type=DOUBLE"`
	Close        float64 `parquet:"name=close, type=DOUBLE"`
	Volume       float64 `parquet:"name=volume, type=DOUBLE"`
	Amount       float64 `parquet:"name=amount, type=DOUBLE"`
	Amplitude    float64 `parquet:"name=amplitude, type=DOUBLE"`
	PctChange    float64 `parquet:"name=pct_change, type=DOUBLE"`
	PriceChange  float64 `parquet:"name=price_change, type=DOUBLE"`
	TurnoverRate float64 `parquet:"name=turnover_rate, type=DOUBLE"`
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Exporter writes one object per instrument per run.
type Exporter struct {
	client      objectPutter
	bucket      string
	prefix      string
	compression string
	version     string
	log         *logger.Log
}

func NewS3Exporter(ctx context.Context, cfg appconfig.S3Config, version string) (*Exporter, error) {
	log := logger.GetLogger()

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_export").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	log.WithComponent("s3_export").WithFields(logger.Fields{
		"bucket":     cfg.Bucket,
		"region":     cfg.Region,
		"endpoint":   cfg.Endpoint,
		"path_style": cfg.PathStyle,
	}).Info("s3 exporter initialized")

	return newExporter(client, cfg, version), nil
}

func newExporter(client objectPutter, cfg appconfig.S3Config, version string) *Exporter {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "bars"
	}
	return &Exporter{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      prefix,
		compression: cfg.Compression,
		version:     version,
		log:         logger.GetLogger(),
	}
}

// ObjectKey is <prefix>/date=YYYY-MM-DD/<code>_<runID>.parquet.
func ObjectKey(prefix string, date time.Time, code, runID string) string {
	return path.Join(prefix, "date="+date.Format(model.DateLayout), code+"_"+runID+".parquet")
}

// Export encodes and uploads every series. A failing instrument is logged
// and the rest continue; the joined errors are returned with the count of
// uploaded objects.
func (e *Exporter) Export(ctx context.Context, runID string, date time.Time, series map[string][]model.DailyBar) (int, error) {
	codes := make([]string, 0, len(series))
	for c := range series {
		codes = append(codes, c)
	}
	sort.Strings(codes)

	var errs []error
	uploaded := 0
	for _, c := range codes {
		bars := series[c]
		if len(bars) == 0 {
			continue
		}
		key := ObjectKey(e.prefix, date, c, runID)
		log := e.log.WithComponent("s3_export").WithInstrument(c).WithFields(logger.Fields{"s3_key": key})

		data, err := EncodeBars(c, bars, e.compression)
		if err != nil {
			log.WithError(err).Error("failed to create parquet file")
			errs = append(errs, fmt.Errorf("%s: %w", c, err))
			continue
		}
		if err := e.upload(ctx, key, data); err != nil {
			log.WithError(err).WithEnv("S3_BUCKET").WithFields(logger.Fields{"bucket": e.bucket}).Error("failed to upload to S3")
			errs = append(errs, fmt.Errorf("%s: %w", c, err))
			continue
		}
		uploaded++
		logger.LogDataFlowEntry(log, "bar_store", "s3", len(bars), "parquet")
	}

	metrics.EmitMetric(e.log, "export", metrics.MetricExportObjects, uploaded, "counter", logger.Fields{"failed": len(errs)})
	return uploaded, errors.Join(errs...)
}

func (e *Exporter) upload(ctx context.Context, key string, data []byte) error {
	_, err := e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":       "parquet",
			"compression":        e.compression,
			"marketflow-version": e.version,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", e.bucket, err)
	}
	return nil
}

// EncodeBars renders bars as an in-memory parquet file.
func EncodeBars(code string, bars []model.DailyBar, compression string) ([]byte, error) {
	fw := newMemoryFile()
	pw, err := writer.NewParquetWriter(fw, new(BarRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, b := range bars {
		record := BarRecord{
			Code:         code,
			Date:         b.DateString(),
			Open:         b.Open,
			High:         b.High,
			Low:          b.Low,
			Close:        b.Close,
			Volume:       b.Volume,
			Amount:       b.Amount,
			Amplitude:    b.Amplitude,
			PctChange:    b.PctChange,
			PriceChange:  b.PriceChange,
			TurnoverRate: b.TurnoverRate,
		}
		if err := pw.Write(record); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}
