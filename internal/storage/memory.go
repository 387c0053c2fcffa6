package storage

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memoryVersion struct {
	id       string
	body     []byte
	modified time.Time
}

// memoryStore provides an in-memory backend for development and testing.
type memoryStore struct {
	mu      sync.RWMutex
	clock   func() time.Time
	objects map[string]map[string][]memoryVersion // bucket -> key -> versions in write order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore(opts Options) Store {
	return &memoryStore{
		clock:   opts.clock(),
		objects: make(map[string]map[string][]memoryVersion),
	}
}

func (m *memoryStore) PutBody(ctx context.Context, bucket, key string, body []byte) (PutResult, error) {
	if err := validateLocation(bucket, key); err != nil {
		return PutResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	keys, ok := m.objects[bucket]
	if !ok {
		keys = make(map[string][]memoryVersion)
		m.objects[bucket] = keys
	}

	now := m.clock().UTC()
	version := memoryVersion{
		id:       computeVersionID(bucket, key, body, now),
		body:     append([]byte{}, body...),
		modified: now,
	}
	keys[key] = append(keys[key], version)

	return PutResult{VersionID: version.id, LastModified: now}, nil
}

func (m *memoryStore) ListVersions(ctx context.Context, bucket, key string) ([]ObjectVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys, ok := m.objects[bucket]
	if !ok {
		return nil, &NotFoundError{Resource: "bucket", Key: bucket}
	}

	versions := keys[key]
	result := make([]ObjectVersion, 0, len(versions))
	for i, v := range versions {
		result = append(result, ObjectVersion{
			Key:          key,
			VersionID:    v.id,
			LastModified: v.modified,
			IsLatest:     i == len(versions)-1,
		})
	}
	return normalizeVersions(key, result), nil
}

func (m *memoryStore) GetBody(ctx context.Context, bucket, key, versionID string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.objects[bucket][key]
	if len(versions) == 0 {
		return Object{}, &NotFoundError{Resource: "key", Key: key}
	}

	if versionID == "" {
		latest := versions[len(versions)-1]
		return latest.object(key), nil
	}

	for _, v := range versions {
		if v.id == versionID {
			return v.object(key), nil
		}
	}
	return Object{}, &NotFoundError{Resource: "version", Key: versionID}
}

func (m *memoryStore) ListKeys(ctx context.Context, bucket string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys, ok := m.objects[bucket]
	if !ok {
		return nil, &NotFoundError{Resource: "bucket", Key: bucket}
	}

	names := make([]string, 0, len(keys))
	for name := range keys {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (v memoryVersion) object(key string) Object {
	return Object{
		Key:          key,
		Body:         append([]byte{}, v.body...),
		VersionID:    v.id,
		LastModified: v.modified,
	}
}
