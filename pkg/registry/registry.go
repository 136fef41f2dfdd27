// Package registry keeps the index of assessed releases. Export appends to
// it; reporting reads releases from it instead of listing directories.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/DrSkyle/eviid/pkg/assessment"
	"github.com/DrSkyle/eviid/pkg/storage"
)

// Release is the registry entry for one exported release.
type Release struct {
	ReleaseID   string `json:"release_id"`
	GeneratedAt string `json:"generated_at"`
	// Documents maps document file name to its sha-256 digest.
	Documents    map[string]string    `json:"documents"`
	Controls     []assessment.Verdict `json:"controls"`
	Findings     int                  `json:"findings"`
	POAMItems    int                  `json:"poam_items"`
	Resources    int                  `json:"resources"`
	BundleDigest string               `json:"bundle_digest,omitempty"`
	Verified     bool                 `json:"verified"`
}

// ControlsOK counts the controls with evidence present.
func (r Release) ControlsOK() int {
	n := 0
	for _, c := range r.Controls {
		if c.Present {
			n++
		}
	}
	return n
}

// Coverage is the fraction of controls with evidence present.
func (r Release) Coverage() float64 {
	if len(r.Controls) == 0 {
		return 0
	}
	return float64(r.ControlsOK()) / float64(len(r.Controls))
}

// Index lists releases in registration order.
type Index struct {
	Releases []Release `json:"releases"`
}

// Upsert records rel. A release exported again replaces its entry and keeps
// its original position.
func (x *Index) Upsert(rel Release) {
	for i := range x.Releases {
		if x.Releases[i].ReleaseID == rel.ReleaseID {
			x.Releases[i] = rel
			return
		}
	}
	x.Releases = append(x.Releases, rel)
}

// Lookup returns the entry for id.
func (x *Index) Lookup(id string) (Release, bool) {
	for _, r := range x.Releases {
		if r.ReleaseID == id {
			return r, true
		}
	}
	return Release{}, false
}

// IDs returns release ids in registration order.
func (x *Index) IDs() []string {
	ids := make([]string, len(x.Releases))
	for i, r := range x.Releases {
		ids[i] = r.ReleaseID
	}
	return ids
}

// Load reads the index at key. A missing index is empty.
func Load(ctx context.Context, s storage.BlobStore, key string) (*Index, error) {
	var x Index
	err := storage.GetJSON(ctx, s, key, &x)
	if errors.Is(err, fs.ErrNotExist) {
		return &Index{Releases: []Release{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load release registry: %w", err)
	}
	if x.Releases == nil {
		x.Releases = []Release{}
	}
	return &x, nil
}

// Save writes the index to key.
func (x *Index) Save(ctx context.Context, s storage.BlobStore, key string) error {
	return storage.PutJSON(ctx, s, key, x)
}
