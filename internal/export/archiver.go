// Package export archives integrity bundles to S3-compatible object
// storage so audits do not depend on the live database.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	sc "github.com/trialware/diarysync/internal/server/config"
	"github.com/trialware/diarysync/internal/wire"
)

// ObjectPutter is the slice of the S3 API the archiver uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver uploads integrity exports as JSON objects, one per bundle.
type Archiver struct {
	client ObjectPutter
	bucket string
}

// NewArchiver builds an Archiver against the configured S3-compatible
// endpoint (MinIO in development).
func NewArchiver(cfg *sc.Config) (*Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser,
			cfg.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		o.UsePathStyle = true
	})

	return &Archiver{client: client, bucket: cfg.S3Bucket}, nil
}

// NewArchiverWithClient is the test seam.
func NewArchiverWithClient(client ObjectPutter, bucket string) *Archiver {
	return &Archiver{client: client, bucket: bucket}
}

// StorageKey places bundles under aggregate and generation date so audits
// for one record list with a single prefix scan.
func StorageKey(export *wire.IntegrityExport) string {
	d := export.GeneratedAt
	return fmt.Sprintf("exports/%s/%d/%02d/%02d/%d.json",
		export.AggregateID, d.Year(), d.Month(), d.Day(), d.UnixNano())
}

// Archive uploads one bundle and returns its object key.
func (a *Archiver) Archive(ctx context.Context, export *wire.IntegrityExport) (string, error) {
	body, err := json.Marshal(export)
	if err != nil {
		return "", err
	}

	key := StorageKey(export)
	contentType := "application/json"
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("error uploading export %s: %w", key, err)
	}
	return key, nil
}

// ArchiveDay is a convenience for the daily job: it wraps a bundle covering
// one calendar day.
func ArchiveDay(ctx context.Context, a *Archiver, build func(ctx context.Context, from, to time.Time) (*wire.IntegrityExport, error), day time.Time) (string, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	export, err := build(ctx, from, to)
	if err != nil {
		return "", err
	}
	return a.Archive(ctx, export)
}
