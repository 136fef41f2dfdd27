package evidence

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DeletionArtifact is the record left behind by a retention deletion job.
type DeletionArtifact struct {
	Path      string
	ModTime   time.Time
	ReleaseID string
}

// AppliesTo reports whether the artifact counts for release. Artifacts that
// do not name a release apply to every release.
func (d DeletionArtifact) AppliesTo(release string) bool {
	return d.ReleaseID == "" || d.ReleaseID == release
}

// ScanDeletions lists the *.json artifacts in dir, sorted by name. A missing
// directory means no deletion evidence.
func ScanDeletions(dir string) ([]DeletionArtifact, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var out []DeletionArtifact
	for _, p := range matches {
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			continue
		}
		out = append(out, DeletionArtifact{
			Path:      p,
			ModTime:   info.ModTime(),
			ReleaseID: releaseOf(p),
		})
	}
	return out, nil
}

// HasDeletionEvidence reports whether any artifact applies to release.
func HasDeletionEvidence(artifacts []DeletionArtifact, release string) bool {
	for _, a := range artifacts {
		if a.AppliesTo(release) {
			return true
		}
	}
	return false
}

func releaseOf(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var rec struct {
		ReleaseID string `json:"release_id"`
	}
	if json.Unmarshal(data, &rec) != nil {
		return ""
	}
	return rec.ReleaseID
}
