// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package storage implements the §5/§6.5 session-log archival target:
// the zipped NDJSON transcript a terminated call produces gets uploaded to
// object storage under "logs/{call_id}.zip" so the call record's LogKey can
// be resolved back to it later.
package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store implements listener.ObjectStore over an S3-compatible bucket.
type S3Store struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// Config mirrors config.S3Config. Credentials resolve through the AWS
// default chain (environment, shared config, or instance role) rather than
// static keys — this core runs as a single deployed service, not a
// per-tenant credential resolver, so there is no equivalent of the
// teacher's per-request credential lookup to generalize here.
type Config struct {
	Region string
	Bucket string
	Prefix string
	// Endpoint overrides the default AWS endpoint resolution, for
	// S3-compatible stores (e.g. MinIO, R2). Empty uses AWS's own regional
	// endpoint.
	Endpoint string
}

// New loads the default AWS config and constructs an S3Store ready to
// receive uploads.
func New(ctx context.Context, cfg Config) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("storage: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &S3Store{
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
	}, nil
}

// Upload puts data at key under the configured bucket. Satisfies
// listener.ObjectStore.
func (s *S3Store) Upload(ctx context.Context, key string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("storage: uploading %s: %w", key, err)
	}
	return nil
}

// LogKey formats a session-log key namespaced by the configured prefix
// ("logs" when empty). listener.Terminator does not call it: it uploads to,
// and records, "logs/{call_id}.zip" whatever the prefix.
func (s *S3Store) LogKey(callID string) string {
	if s.prefix == "" {
		return fmt.Sprintf("logs/%s.zip", callID)
	}
	return fmt.Sprintf("%s/%s.zip", s.prefix, callID)
}
