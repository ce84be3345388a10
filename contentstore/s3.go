// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3 stores blobs in an S3 bucket under prefix+cid.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3 loads the default AWS configuration (environment, shared config,
// instance role) and targets location "bucket[/prefix]".
func NewS3(ctx context.Context, location string, logger *slog.Logger) (*S3, error) {
	bucket, prefix, err := splitLocation(location)
	if err != nil {
		return nil, fmt.Errorf("s3 content store: %w", err)
	}
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3 content store: load default AWS config: %w", err)
	}
	return &S3{
		client: s3.NewFromConfig(awsCfg),
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}, nil
}

func (s *S3) key(cid string) *string {
	return aws.String(s.prefix + cid)
}

func (s *S3) Put(ctx context.Context, data []byte) (string, error) {
	cid := CID(data)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         s.key(cid),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		s.logger.Error("s3 put failed", "cid", cid, "error", err)
		return "", external("s3 put", cid, err)
	}
	s.logger.Debug("s3 put ok", "cid", cid, "bytes", len(data))
	return cid, nil
}

func (s *S3) Get(ctx context.Context, cid string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(cid),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, notFound(cid)
		}
		s.logger.Error("s3 get failed", "cid", cid, "error", err)
		return nil, external("s3 get", cid, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, external("s3 read", cid, err)
	}
	return checkContent(cid, data)
}

func (s *S3) Close() error { return nil }

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
		return true
	}
	var noSuchKey *s3types.NoSuchKey
	return errors.As(err, &noSuchKey)
}
