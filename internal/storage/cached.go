package storage

import "context"

type listCacheKey struct {
	bucket, key string
}

type bodyCacheKey struct {
	bucket, key, versionID string
}

// cachedStore memoizes reads for the lifetime of one invocation. Stored
// versions never change, so entries are only dropped when this process writes.
type cachedStore struct {
	next     Store
	versions map[listCacheKey][]ObjectVersion
	bodies   map[bodyCacheKey]Object
	keys     map[string][]string
}

// NewCachedStore wraps next with per-process read memoization. It is not safe
// for concurrent use.
func NewCachedStore(next Store) Store {
	return &cachedStore{
		next:     next,
		versions: make(map[listCacheKey][]ObjectVersion),
		bodies:   make(map[bodyCacheKey]Object),
		keys:     make(map[string][]string),
	}
}

func (c *cachedStore) ListVersions(ctx context.Context, bucket, key string) ([]ObjectVersion, error) {
	k := listCacheKey{bucket, key}
	if v, ok := c.versions[k]; ok {
		return v, nil
	}
	v, err := c.next.ListVersions(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	c.versions[k] = v
	return v, nil
}

func (c *cachedStore) GetBody(ctx context.Context, bucket, key, versionID string) (Object, error) {
	k := bodyCacheKey{bucket, key, versionID}
	if obj, ok := c.bodies[k]; ok {
		return obj, nil
	}
	obj, err := c.next.GetBody(ctx, bucket, key, versionID)
	if err != nil {
		return Object{}, err
	}
	c.bodies[k] = obj
	return obj, nil
}

func (c *cachedStore) PutBody(ctx context.Context, bucket, key string, body []byte) (PutResult, error) {
	res, err := c.next.PutBody(ctx, bucket, key, body)
	if err != nil {
		return PutResult{}, err
	}
	delete(c.versions, listCacheKey{bucket, key})
	delete(c.bodies, bodyCacheKey{bucket, key, ""})
	delete(c.keys, bucket)
	return res, nil
}

func (c *cachedStore) ListKeys(ctx context.Context, bucket string) ([]string, error) {
	if names, ok := c.keys[bucket]; ok {
		return names, nil
	}
	names, err := c.next.ListKeys(ctx, bucket)
	if err != nil {
		return nil, err
	}
	c.keys[bucket] = names
	return names, nil
}
