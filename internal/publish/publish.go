// Package publish uploads the phenotype tables of a BIDS tree to an
// S3-compatible bucket (AWS S3 or MinIO).
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"bidsmeta/internal/bids"
	"bidsmeta/internal/fs"
)

// ErrBucketRequired is returned when no bucket is configured.
var ErrBucketRequired = errors.New("publish: s3 bucket required")

// Object metadata keys set on every upload.
const (
	MetaRunID = "run-id"
	MetaStudy = "study"
)

const (
	defaultRegion  = "us-east-1"
	tsvContentType = "text/tab-separated-values"
	txtContentType = "text/plain; charset=utf-8"
)

// Config holds the destination of an upload.
type Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // optional, e.g. a MinIO URL
	PathStyle bool
}

// Publisher uploads tables to one bucket under a key prefix.
type Publisher struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates a Publisher using the default AWS credential chain.
// optFns are applied to the S3 client options after cfg.
func New(ctx context.Context, cfg Config, optFns ...func(*s3.Options)) (*Publisher, error) {
	if cfg.Bucket == "" {
		return nil, ErrBucketRequired
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("publish: load aws config: %w", err)
	}

	opts := append([]func(*s3.Options){func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}

		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	}}, optFns...)

	return NewWithClient(s3.NewFromConfig(awsCfg, opts...), cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *s3.Client, bucket, prefix string) *Publisher {
	return &Publisher{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key for a path relative to the BIDS root.
func (p *Publisher) Key(rel string) string {
	rel = filepath.ToSlash(rel)
	if p.prefix == "" {
		return rel
	}

	return path.Join(p.prefix, rel)
}

// Upload describes one uploaded object.
type Upload struct {
	Key  string
	Size int
}

// Publish uploads every emitted table under bidsDir, tagging each object with
// the run id and study. It stops at the first failed upload.
func (p *Publisher) Publish(ctx context.Context, fsys fs.FS, bidsDir, runID string, study bids.Study) ([]Upload, error) {
	tables, err := bids.Tables(fsys, bidsDir)
	if err != nil {
		return nil, fmt.Errorf("publish: list tables: %w", err)
	}

	uploads := make([]Upload, 0, len(tables))

	for _, rel := range tables {
		if err := ctx.Err(); err != nil {
			return uploads, err
		}

		data, err := fsys.ReadFile(filepath.Join(bidsDir, filepath.FromSlash(rel)))
		if err != nil {
			return uploads, fmt.Errorf("publish: read %s: %w", rel, err)
		}

		key := p.Key(rel)
		contentType := tsvContentType

		if !strings.HasSuffix(rel, ".tsv") {
			contentType = txtContentType
		}

		_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(p.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(contentType),
			Metadata: map[string]string{
				MetaRunID: runID,
				MetaStudy: string(study),
			},
		})
		if err != nil {
			return uploads, fmt.Errorf("publish: put %s: %w", key, err)
		}

		uploads = append(uploads, Upload{Key: key, Size: len(data)})
	}

	return uploads, nil
}
