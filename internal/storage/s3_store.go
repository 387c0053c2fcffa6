package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

// s3API is the subset of the S3 client the store relies on.
type s3API interface {
	ListObjectVersions(ctx context.Context, params *s3.ListObjectVersionsInput, optFns ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	s3.ListObjectsV2APIClient
}

type s3Store struct {
	client s3API
	clock  func() time.Time
	log    zerolog.Logger
}

// NewS3Store initializes a Store backed by versioned S3 buckets.
func NewS3Store(cfg aws.Config, opts Options) Store {
	return newS3Store(s3.NewFromConfig(cfg), opts)
}

func newS3Store(client s3API, opts Options) *s3Store {
	return &s3Store{
		client: client,
		clock:  opts.clock(),
		log:    opts.Logger.With().Str("backend", "s3").Logger(),
	}
}

func (s *s3Store) ListVersions(ctx context.Context, bucket, key string) ([]ObjectVersion, error) {
	input := &s3.ListObjectVersionsInput{
		Bucket: aws.String(bucket),
		Prefix: aws.String(key),
	}

	var result []ObjectVersion
	for {
		page, err := s.client.ListObjectVersions(ctx, input)
		if err != nil {
			return nil, translateS3Error(err, bucket, key)
		}
		for _, v := range page.Versions {
			result = append(result, ObjectVersion{
				Key:          aws.ToString(v.Key),
				VersionID:    aws.ToString(v.VersionId),
				LastModified: aws.ToTime(v.LastModified),
				IsLatest:     aws.ToBool(v.IsLatest),
			})
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		input.KeyMarker = page.NextKeyMarker
		input.VersionIdMarker = page.NextVersionIdMarker
	}

	s.log.Debug().Str("bucket", bucket).Str("key", key).Int("versions", len(result)).Msg("listed object versions")
	return normalizeVersions(key, result), nil
}

func (s *s3Store) GetBody(ctx context.Context, bucket, key, versionID string) (Object, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if versionID != "" {
		input.VersionId = aws.String(versionID)
	}

	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		return Object{}, translateS3Error(err, bucket, key)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return Object{}, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}

	return Object{
		Key:          key,
		Body:         body,
		VersionID:    aws.ToString(out.VersionId),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

func (s *s3Store) PutBody(ctx context.Context, bucket, key string, body []byte) (PutResult, error) {
	if err := validateLocation(bucket, key); err != nil {
		return PutResult{}, err
	}

	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return PutResult{}, translateS3Error(err, bucket, key)
	}

	versionID := aws.ToString(out.VersionId)
	if versionID == "" || versionID == unversionedID {
		return PutResult{}, fmt.Errorf("bucket %s does not have versioning enabled", bucket)
	}

	result := PutResult{VersionID: versionID, LastModified: s.clock().UTC()}
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket:    aws.String(bucket),
		Key:       aws.String(key),
		VersionId: aws.String(versionID),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("bucket", bucket).Str("key", key).Msg("could not read written version metadata")
		return result, nil
	}
	if head.LastModified != nil {
		result.LastModified = *head.LastModified
	}
	return result, nil
}

func (s *s3Store) ListKeys(ctx context.Context, bucket string) ([]string, error) {
	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, translateS3Error(err, bucket, "")
		}
		for _, obj := range page.Contents {
			names = append(names, aws.ToString(obj.Key))
		}
	}
	slices.Sort(names)
	return names, nil
}

func translateS3Error(err error, bucket, key string) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound":
		return &NotFoundError{Resource: "key", Key: key}
	case "NoSuchVersion":
		return &NotFoundError{Resource: "version", Key: key}
	case "NoSuchBucket":
		return &NotFoundError{Resource: "bucket", Key: bucket}
	case "AccessDenied", "Forbidden":
		return &AccessDeniedError{Bucket: bucket, Key: key, Err: err}
	}
	return err
}
