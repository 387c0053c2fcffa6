// Package image resolves container image digests through the Docker daemon.
package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"
)

// NotFoundError is returned when no digest could be determined for an image.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("image ID not found for %s", e.Ref)
}

type dockerAPI interface {
	ImagePull(ctx context.Context, ref string, options dockerimage.PullOptions) (io.ReadCloser, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	Close() error
}

// Resolver pulls images and reports their content digest.
type Resolver struct {
	api dockerAPI
	log zerolog.Logger
}

// New creates a Resolver using environment defaults, or host when set.
func New(host string, log zerolog.Logger) (*Resolver, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newResolver(inner, log), nil
}

func newResolver(api dockerAPI, log zerolog.Logger) *Resolver {
	return &Resolver{api: api, log: log.With().Str("component", "image").Logger()}
}

// Close releases resources held by the Docker client.
func (r *Resolver) Close() error {
	return r.api.Close()
}

type pullMessage struct {
	Status      string `json:"status"`
	ErrorDetail *struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
	Error string `json:"error"`
}

func (m pullMessage) errorMessage() string {
	if m.ErrorDetail != nil && m.ErrorDetail.Message != "" {
		return m.ErrorDetail.Message
	}
	return m.Error
}

// Digest pulls ref and returns its digest, e.g. sha256:4f1c... The digest is
// read from the pull progress and, failing that, from the local image's
// repo digests.
func (r *Resolver) Digest(ctx context.Context, ref string) (string, error) {
	r.log.Info().Str("image", ref).Msg("pulling image")

	stream, err := r.api.ImagePull(ctx, ref, dockerimage.PullOptions{})
	if err != nil {
		return "", fmt.Errorf("docker pull %s: %w", ref, err)
	}
	defer stream.Close()

	var digest string
	decoder := json.NewDecoder(stream)
	for {
		var msg pullMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("decode pull output: %w", err)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return "", fmt.Errorf("docker pull %s: %s", ref, errMsg)
		}
		if rest, ok := strings.CutPrefix(msg.Status, "Digest:"); ok {
			digest = strings.TrimSpace(rest)
		}
	}
	if digest != "" {
		return digest, nil
	}

	inspect, _, err := r.api.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("docker inspect %s: %w", ref, err)
	}
	for _, repoDigest := range inspect.RepoDigests {
		if _, d, ok := strings.Cut(repoDigest, "@"); ok {
			return d, nil
		}
	}
	return "", &NotFoundError{Ref: ref}
}
