package revision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/greenlight-sh/greenlight/internal/controlplane"
)

var (
	ErrInvalidImageRef = errors.New("invalid image reference")
	ErrMutableTag      = errors.New("image tag is mutable")
)

// mutableTags are floating tags that move between pushes. Deploying one makes
// the rollout unreproducible and rollback meaningless, so they are rejected
// before anything is mutated.
var mutableTags = map[string]struct{}{
	"latest": {},
	"main":   {},
	"master": {},
	"edge":   {},
}

// ValidateImageRef checks that image names a concrete, pinned tag or digest.
func ValidateImageRef(image string) error {
	if image == "" {
		return fmt.Errorf("%w: empty image", ErrInvalidImageRef)
	}
	if strings.ContainsAny(image, " \t\n") {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidImageRef, image)
	}

	// Digest references are immutable by construction.
	if strings.Contains(image, "@sha256:") {
		return nil
	}

	tag := imageTag(image)
	if tag == "" {
		return fmt.Errorf("%w: %q has no tag", ErrMutableTag, image)
	}
	if _, ok := mutableTags[tag]; ok {
		return fmt.Errorf("%w: %q", ErrMutableTag, tag)
	}
	return nil
}

// imageTag extracts the tag from an image reference, being careful not to
// mistake a registry port (registry:5000/app) for a tag.
func imageTag(image string) string {
	lastColon := strings.LastIndex(image, ":")
	if lastColon < 0 {
		return ""
	}
	if strings.Contains(image[lastColon:], "/") {
		return "" // colon belongs to a registry host:port
	}
	return image[lastColon+1:]
}

// Registry creates immutable service revisions from the currently active one
// plus an image override.
type Registry struct {
	cp     controlplane.Client
	logger *zap.Logger
}

func NewRegistry(cp controlplane.Client, logger *zap.Logger) *Registry {
	return &Registry{cp: cp, logger: logger}
}

// Register materializes a new revision from base's configuration with the
// image replaced. The operation is additive: retrying leaves orphaned
// revisions behind but never corrupts an existing one.
func (r *Registry) Register(ctx context.Context, base controlplane.RevisionRef, image string, metadata map[string]string) (controlplane.RevisionRef, error) {
	if err := ValidateImageRef(image); err != nil {
		return "", err
	}
	if base == "" {
		return "", fmt.Errorf("%w: base revision is required", ErrInvalidImageRef)
	}

	rev, err := r.cp.RegisterRevision(ctx, base, image, metadata)
	if err != nil {
		return "", fmt.Errorf("register revision from %s: %w", base, err)
	}

	r.logger.Info("registered revision",
		zap.String("base", string(base)),
		zap.String("target", string(rev)),
		zap.String("image", image),
	)
	return rev, nil
}
