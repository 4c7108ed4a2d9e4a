// Package s3 archives order snapshots to S3.
package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

// s3WriterAPI is the part of the S3 client the writer calls.
type s3WriterAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Compile-time check that Writer implements outbound.S3Writer
var _ outbound.S3Writer = (*Writer)(nil)

// Writer implements outbound.S3Writer.
type Writer struct {
	client s3WriterAPI
	logger *slog.Logger
}

// NewWriter creates a writer from an AWS config. Pass
// func(o *s3.Options) { o.UsePathStyle = true } for LocalStack.
func NewWriter(cfg aws.Config, logger *slog.Logger, optFns ...func(*s3.Options)) *Writer {
	return newWriter(s3.NewFromConfig(cfg, optFns...), logger)
}

func newWriter(client s3WriterAPI, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		client: client,
		logger: logger.With("component", "s3-writer"),
	}
}

func gzipBody(content io.Reader) (io.Reader, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := io.Copy(zw, content); err != nil {
		return nil, fmt.Errorf("failed to compress content: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return bytes.NewReader(buf.Bytes()), nil
}

// WriteFileIfNotExists writes content to key with If-None-Match: *, so an
// existing object is never overwritten.
func (w *Writer) WriteFileIfNotExists(ctx context.Context, bucket, key string, content io.Reader, compressGzip bool) (bool, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        content,
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	}
	if compressGzip {
		body, err := gzipBody(content)
		if err != nil {
			return false, err
		}
		input.Body = body
		input.ContentEncoding = aws.String("gzip")
	}

	if _, err := w.client.PutObject(ctx, input); err != nil {
		if isPreconditionFailed(err) {
			w.logger.Debug("object already exists", "bucket", bucket, "key", key)
			return false, nil
		}
		return false, fmt.Errorf("failed to write to S3: %w", err)
	}

	w.logger.Debug("wrote object", "bucket", bucket, "key", key, "compressed", compressGzip)
	return true, nil
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := apiErr.ErrorCode()
	return code == "PreconditionFailed" || code == "412"
}

// FileExists checks if an object exists at key.
func (w *Writer) FileExists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := w.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check if file exists: %w", err)
}
