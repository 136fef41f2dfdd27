package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/DrSkyle/eviid/pkg/storage"
)

// Publish uploads the release documents, the verification report, the
// rollup, and the registry to the publish target. Local files are always
// written first and remain the source; a failed upload is reported but the
// remaining files are still attempted.
func (e *Engine) Publish(ctx context.Context, release string) (err error) {
	ctx, span := e.startSpan(ctx, "Engine.Publish", attribute.String("release", release))
	defer func() { endSpan(span, err) }()

	target := e.publisher
	if target == nil {
		if e.config.Publish == "" {
			return nil
		}
		s3Store, err := storage.NewS3StoreFromURL(ctx, e.config.Publish)
		if err != nil {
			return err
		}
		target = s3Store
		e.publisher = s3Store
	}

	p := e.config.Paths
	keys, err := e.Store.List(ctx, p.ReleaseDir(release))
	if err != nil {
		return fmt.Errorf("failed to list release files: %w", err)
	}
	keys = append(keys, p.Rollup(), p.RegistryIndex())

	e.Logger.Info("Uploading artifacts", "target", e.config.Publish, "files", len(keys))

	var errs []error
	uploaded := 0
	for _, key := range keys {
		data, err := e.Store.Get(ctx, key)
		if err != nil {
			e.Logger.Debug("Skipping missing artifact", "key", key, "error", err)
			continue
		}
		if err := target.Put(ctx, key, data); err != nil {
			e.Logger.Warn("Failed to upload artifact", "key", key, "error", err)
			errs = append(errs, err)
			continue
		}
		uploaded++
	}
	span.SetAttributes(attribute.Int("uploaded", uploaded))
	if len(errs) > 0 {
		return fmt.Errorf("published %d of %d artifacts: %w", uploaded, len(keys), errors.Join(errs...))
	}
	return nil
}
