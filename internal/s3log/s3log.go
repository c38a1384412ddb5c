// Package s3log wraps an S3 client and logs every API call.
package s3log

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tus/doctree/pkg/s3provider"
)

var _ s3provider.S3API = &loggingS3API{}

type loggingS3API struct {
	Wrapped s3provider.S3API
	Logger  *slog.Logger
}

// New creates a wrapper around the provided S3 API that logs all calls to
// logger at debug level.
func New(wrapped s3provider.S3API, logger *slog.Logger) s3provider.S3API {
	return &loggingS3API{
		Wrapped: wrapped,
		Logger:  logger,
	}
}

// sanitizeForLogging drops the entry contents from inputs and outputs.
func sanitizeForLogging(v interface{}) interface{} {
	switch input := v.(type) {
	case *s3.PutObjectInput:
		sanitized := *input
		sanitized.Body = nil
		return sanitized
	case *s3.GetObjectOutput:
		if input == nil {
			return nil
		}
		sanitized := *input
		sanitized.Body = nil
		return sanitized
	default:
		return v
	}
}

func jsonEncode(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("{\"error\":\"failed to marshal: %v\"}", err)
	}

	return string(data)
}

func (l *loggingS3API) logCall(ctx context.Context, operation string, input, output interface{}, err error, duration time.Duration) {
	if !l.Logger.Enabled(ctx, slog.LevelDebug) {
		return
	}

	attrs := []any{
		"operation", operation,
		"input", jsonEncode(sanitizeForLogging(input)),
		"duration_ms", duration.Milliseconds(),
	}

	if err != nil {
		attrs = append(attrs, "error", err.Error())
	} else {
		attrs = append(attrs, "output", jsonEncode(sanitizeForLogging(output)))
	}

	l.Logger.DebugContext(ctx, "S3APICall", attrs...)
}

func (l *loggingS3API) HeadBucket(ctx context.Context, input *s3.HeadBucketInput, opt ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	start := time.Now()
	output, err := l.Wrapped.HeadBucket(ctx, input, opt...)
	l.logCall(ctx, "HeadBucket", input, output, err, time.Since(start))
	return output, err
}

func (l *loggingS3API) ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opt ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	start := time.Now()
	output, err := l.Wrapped.ListObjectsV2(ctx, input, opt...)
	l.logCall(ctx, "ListObjectsV2", input, output, err, time.Since(start))
	return output, err
}

func (l *loggingS3API) HeadObject(ctx context.Context, input *s3.HeadObjectInput, opt ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	start := time.Now()
	output, err := l.Wrapped.HeadObject(ctx, input, opt...)
	l.logCall(ctx, "HeadObject", input, output, err, time.Since(start))
	return output, err
}

func (l *loggingS3API) GetObject(ctx context.Context, input *s3.GetObjectInput, opt ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	start := time.Now()
	output, err := l.Wrapped.GetObject(ctx, input, opt...)
	l.logCall(ctx, "GetObject", input, output, err, time.Since(start))
	return output, err
}

func (l *loggingS3API) PutObject(ctx context.Context, input *s3.PutObjectInput, opt ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	start := time.Now()
	output, err := l.Wrapped.PutObject(ctx, input, opt...)
	l.logCall(ctx, "PutObject", input, output, err, time.Since(start))
	return output, err
}

func (l *loggingS3API) DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opt ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	start := time.Now()
	output, err := l.Wrapped.DeleteObject(ctx, input, opt...)
	l.logCall(ctx, "DeleteObject", input, output, err, time.Since(start))
	return output, err
}
