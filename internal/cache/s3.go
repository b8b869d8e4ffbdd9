package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	metaCacheKey = "cache-key"
	metaCachedAt = "cached-at"
)

// S3Store addresses payloads as objects in an S3-compatible bucket, for
// deployments that share the offline cache across hosts. Objects are keyed by
// the hashed cache key under a fixed prefix; the original key and timestamps
// ride along as object metadata.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

func NewS3Store(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

func (s *S3Store) objectKey(key string) string {
	if s.prefix == "" {
		return hashKey(key)
	}
	return s.prefix + "/" + hashKey(key)
}

func (s *S3Store) Put(ctx context.Context, key string, payload []byte, contentType string) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPrivate,
		Metadata: map[string]string{
			metaCacheKey: key,
			metaCachedAt: strconv.FormatInt(nowMillis(), 10),
		},
	})
	if err != nil {
		return fmt.Errorf("upload cache object: %w", err)
	}
	return nil
}

func (s *S3Store) Match(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cache object: %w", err)
	}
	defer out.Body.Close()

	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read cache object: %w", err)
	}

	rec := &Record{
		Key:         key,
		ContentType: aws.ToString(out.ContentType),
		Size:        int64(len(payload)),
		Payload:     payload,
	}
	if raw, ok := out.Metadata[metaCachedAt]; ok {
		if at, err := strconv.ParseInt(raw, 10, 64); err == nil {
			rec.CachedAt = at
		}
	}
	return rec, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("delete cache object: %w", err)
	}
	return nil
}

func (s *S3Store) Usage(ctx context.Context) (int64, error) {
	var total int64
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix + "/")
	}

	for {
		output, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("list cache objects: %w", err)
		}
		for _, obj := range output.Contents {
			total += aws.ToInt64(obj.Size)
		}
		if !aws.ToBool(output.IsTruncated) || output.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = output.NextContinuationToken
	}
	return total, nil
}

var _ Store = (*S3Store)(nil)
