package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"

	"go.opentelemetry.io/otel/attribute"

	"github.com/DrSkyle/eviid/pkg/assessment"
	"github.com/DrSkyle/eviid/pkg/config"
	"github.com/DrSkyle/eviid/pkg/resources"
	"github.com/DrSkyle/eviid/pkg/storage"
)

// Verify re-hashes every resource referenced by the release's assessment
// results and writes verification.json. Any resource that is not ok makes
// the returned error wrap resources.ErrIntegrity.
func (e *Engine) Verify(ctx context.Context, release string) (rep resources.Report, err error) {
	ctx, span := e.startSpan(ctx, "Engine.Verify", attribute.String("release", release))
	defer func() { endSpan(span, err) }()
	defer e.recoverPanic(ctx, &err)

	if err := config.ValidateRelease(release); err != nil {
		return resources.Report{}, err
	}

	key := path.Join(e.config.Paths.ReleaseDir(release), assessment.FileAssessmentResults)
	var doc assessment.AssessmentResultsDocument
	if err := storage.GetJSON(ctx, e.Store, key, &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return resources.Report{}, fmt.Errorf("%w: no assessment results for release %s", resources.ErrMissingResource, release)
		}
		return resources.Report{}, err
	}

	rep, err = e.verifyResources(ctx, release, doc.AssessmentResults.BackMatter.Resources)
	if err != nil {
		return rep, err
	}
	e.writeMetrics()
	return rep, rep.Err()
}

func (e *Engine) verifyResources(ctx context.Context, release string, res []resources.Resource) (resources.Report, error) {
	rep := resources.Verify(e.config.Paths.Root, res)

	key := path.Join(e.config.Paths.ReleaseDir(release), assessment.FileVerification)
	out := Verification{
		ReleaseID: release,
		Document:  path.Join(e.config.Paths.ReleaseDir(release), assessment.FileAssessmentResults),
		Report:    rep,
	}
	if err := storage.PutJSON(ctx, e.Store, key, out); err != nil {
		return rep, fmt.Errorf("failed to write verification report: %w", err)
	}

	e.Metrics.RecordVerification(release, rep.Failed)
	for _, c := range rep.Resources {
		if c.Status != resources.StatusOK {
			e.Logger.Error("Resource failed verification",
				"release", release,
				"href", c.Href,
				"status", c.Status,
				"expected", c.Expected,
				"actual", c.Actual,
			)
		}
	}
	return rep, nil
}
