package sinks

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fjlanasa/trainpos/api/v1/events"
	"github.com/fjlanasa/trainpos/config"
	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
)

type ParquetRow struct {
	VehicleID     string    `parquet:"vehicle_id"`
	JourneyNumber int64     `parquet:"journey_number"`
	ReceivedTime  time.Time `parquet:"received_time,timestamp(millisecond)"`
	ModifiedTime  time.Time `parquet:"modified_time,timestamp(millisecond)"`
	MeasuredTime  time.Time `parquet:"measured_time,timestamp(millisecond)"`
	SwerefX       float64   `parquet:"sweref99tm_x"`
	SwerefY       float64   `parquet:"sweref99tm_y"`
	Longitude     float64   `parquet:"wgs84_lon"`
	Latitude      float64   `parquet:"wgs84_lat"`
	Bearing       *int64    `parquet:"bearing,optional"`
	Speed         *int64    `parquet:"speed,optional"`
}

func NewParquetRow(r events.Record) ParquetRow {
	return ParquetRow{
		VehicleID:     r.VehicleID,
		JourneyNumber: int64(r.JourneyNumber),
		ReceivedTime:  r.ReceivedTime.UTC(),
		ModifiedTime:  r.ModifiedTime.UTC(),
		MeasuredTime:  r.MeasuredTime.UTC(),
		SwerefX:       r.SwerefX,
		SwerefY:       r.SwerefY,
		Longitude:     r.Longitude,
		Latitude:      r.Latitude,
		Bearing:       int64Ptr(r.Bearing),
		Speed:         int64Ptr(r.Speed),
	}
}

func int64Ptr(v *int) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ParquetSink writes one Parquet object per commit, either into a local
// directory or into an S3 bucket.
type ParquetSink struct {
	route  config.ID
	cfg    config.ParquetSinkConfig
	client objectPutter
	now    func() time.Time
}

func NewParquetSink(route config.ID, cfg config.ParquetSinkConfig) *ParquetSink {
	return &ParquetSink{route: route, cfg: cfg, now: time.Now}
}

func (s *ParquetSink) bucket() bool {
	return s.cfg.Bucket.BucketName != ""
}

func (s *ParquetSink) Init(ctx context.Context) error {
	if !s.bucket() {
		if err := os.MkdirAll(s.cfg.Path, 0o755); err != nil {
			return fmt.Errorf("parquet sink: create directory: %w", err)
		}
		return nil
	}
	if s.client != nil {
		return nil
	}

	bucket := s.cfg.Bucket
	opts := []func(*awsconfig.LoadOptions) error{}
	if bucket.Region != "" {
		opts = append(opts, awsconfig.WithRegion(bucket.Region))
	}
	if bucket.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(bucket.AccessKeyID, bucket.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("parquet sink: load aws config: %w", err)
	}
	s.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if bucket.URL != "" {
			o.BaseEndpoint = aws.String(bucket.URL)
			o.UsePathStyle = true
		}
	})
	return nil
}

func (s *ParquetSink) objectName() string {
	return fmt.Sprintf("%s-%d-%s.parquet", s.route, s.now().UnixMilli(), uuid.New().String())
}

func (s *ParquetSink) Commit(ctx context.Context, records []events.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]ParquetRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, NewParquetRow(r))
	}
	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows); err != nil {
		return fmt.Errorf("parquet sink: encode: %w", err)
	}

	name := s.objectName()
	if s.bucket() {
		if s.client == nil {
			return fmt.Errorf("parquet sink: not initialized")
		}
		key := path.Join(s.cfg.Bucket.Prefix, string(s.route), name)
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.cfg.Bucket.BucketName),
			Key:    aws.String(key),
			Body:   bytes.NewReader(buf.Bytes()),
		})
		if err != nil {
			return fmt.Errorf("parquet sink: put %s: %w", key, err)
		}
		return nil
	}

	// Renamed into place so readers never see a partial file.
	final := filepath.Join(s.cfg.Path, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("parquet sink: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("parquet sink: rename %s: %w", tmp, err)
	}
	return nil
}

func (s *ParquetSink) Close() error {
	return nil
}
