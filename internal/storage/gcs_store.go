package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSConfig defines Cloud Storage connection settings.
type GCSConfig struct {
	CredentialsFile string
	Endpoint        string
}

// gcsStore uses object generations as version stamps. Buckets must have
// object versioning enabled, otherwise only the live generation is listed.
type gcsStore struct {
	client *gcs.Client
	clock  func() time.Time
	log    zerolog.Logger
}

// NewGCSStore initializes a Store backed by Cloud Storage.
func NewGCSStore(ctx context.Context, cfg GCSConfig, opts Options) (Store, error) {
	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	clientOpts = append(clientOpts, option.WithScopes(gcs.ScopeReadWrite))

	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &gcsStore{
		client: client,
		clock:  opts.clock(),
		log:    opts.Logger.With().Str("backend", "gcs").Logger(),
	}, nil
}

func (s *gcsStore) ListVersions(ctx context.Context, bucket, key string) ([]ObjectVersion, error) {
	it := s.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: key, Versions: true})

	var result []ObjectVersion
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, translateGCSError(err, bucket, key)
		}
		result = append(result, ObjectVersion{
			Key:          attrs.Name,
			VersionID:    strconv.FormatInt(attrs.Generation, 10),
			LastModified: attrs.Updated,
			// noncurrent generations carry a deletion time
			IsLatest: attrs.Deleted.IsZero(),
		})
	}
	return normalizeVersions(key, result), nil
}

func (s *gcsStore) GetBody(ctx context.Context, bucket, key, versionID string) (Object, error) {
	obj := s.client.Bucket(bucket).Object(key)
	if versionID != "" {
		gen, err := strconv.ParseInt(versionID, 10, 64)
		if err != nil {
			return Object{}, &NotFoundError{Resource: "version", Key: versionID}
		}
		obj = obj.Generation(gen)
	}

	r, err := obj.NewReader(ctx)
	if err != nil {
		return Object{}, translateGCSError(err, bucket, key)
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return Object{}, fmt.Errorf("read gs://%s/%s: %w", bucket, key, err)
	}

	return Object{
		Key:          key,
		Body:         body,
		VersionID:    strconv.FormatInt(r.Attrs.Generation, 10),
		LastModified: r.Attrs.LastModified,
	}, nil
}

func (s *gcsStore) PutBody(ctx context.Context, bucket, key string, body []byte) (PutResult, error) {
	if err := validateLocation(bucket, key); err != nil {
		return PutResult{}, err
	}

	w := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return PutResult{}, translateGCSError(err, bucket, key)
	}
	if err := w.Close(); err != nil {
		return PutResult{}, translateGCSError(err, bucket, key)
	}

	attrs := w.Attrs()
	result := PutResult{
		VersionID:    strconv.FormatInt(attrs.Generation, 10),
		LastModified: attrs.Updated,
	}
	if result.LastModified.IsZero() {
		result.LastModified = s.clock().UTC()
	}
	return result, nil
}

func (s *gcsStore) ListKeys(ctx context.Context, bucket string) ([]string, error) {
	it := s.client.Bucket(bucket).Objects(ctx, nil)

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, translateGCSError(err, bucket, "")
		}
		names = append(names, attrs.Name)
	}
	slices.Sort(names)
	return names, nil
}

func translateGCSError(err error, bucket, key string) error {
	switch {
	case errors.Is(err, gcs.ErrObjectNotExist):
		return &NotFoundError{Resource: "key", Key: key}
	case errors.Is(err, gcs.ErrBucketNotExist):
		return &NotFoundError{Resource: "bucket", Key: bucket}
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
		return &AccessDeniedError{Bucket: bucket, Key: key, Err: err}
	}
	return err
}
