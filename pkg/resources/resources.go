// Package resources builds the back-matter resource list shared by every
// assessment document and re-verifies it later.
package resources

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/DrSkyle/eviid/pkg/config"
	"github.com/DrSkyle/eviid/pkg/integrity"
)

var (
	// ErrMissingResource is returned when a referenced evidence file is gone.
	ErrMissingResource = errors.New("missing resource")
	// ErrIntegrity is returned when verification finds any non-ok resource.
	ErrIntegrity = errors.New("integrity verification failed")
)

// MissingError names the evidence file that could not be read.
type MissingError struct {
	Href string
	Err  error
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing resource %s: %v", e.Href, e.Err)
}

func (e *MissingError) Unwrap() error { return e.Err }

// Is matches ErrMissingResource.
func (e *MissingError) Is(target error) bool { return target == ErrMissingResource }

// Hash is one digest of a linked file.
type Hash struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// RLink points at a file relative to the repository root.
type RLink struct {
	Href   string `json:"href"`
	Hashes []Hash `json:"hashes"`
}

// Resource is one back-matter entry.
type Resource struct {
	UUID   string  `json:"uuid"`
	Title  string  `json:"title"`
	RLinks []RLink `json:"rlinks"`
}

// Href returns the first link target, or "".
func (r Resource) Href() string {
	if len(r.RLinks) == 0 {
		return ""
	}
	return r.RLinks[0].Href
}

// Digest returns the recorded sha-256 value of the first link, or "".
func (r Resource) Digest() string {
	if len(r.RLinks) == 0 {
		return ""
	}
	for _, h := range r.RLinks[0].Hashes {
		if h.Algorithm == integrity.Algorithm {
			return h.Value
		}
	}
	return ""
}

// Artifact is an evidence file to link. Path is slash-separated and
// relative to the root.
type Artifact struct {
	Title string
	Path  string
}

// Discover lists the evidence artifacts that currently exist, in a fixed
// order: decision log, event log, monitoring rollup, CI reports, CD gates.
func Discover(p config.Paths) ([]Artifact, error) {
	var out []Artifact
	add := func(title, rel string) {
		if info, err := os.Stat(p.Abs(rel)); err == nil && !info.IsDir() {
			out = append(out, Artifact{Title: title, Path: rel})
		}
	}

	add("OPA decision logs", p.DecisionLog())
	add("Workload events", p.EventLog())
	add("Monitoring rollup", p.Rollup())

	for _, dir := range []struct{ label, rel string }{
		{"CI report", p.CIReportDir()},
		{"CD gate", p.CDGateDir()},
	} {
		names, err := listJSON(p.Abs(dir.rel))
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			add(fmt.Sprintf("%s %s", dir.label, name), path.Join(dir.rel, name))
		}
	}
	return out, nil
}

func listJSON(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Strings(names)
	return names, nil
}

// ID is the stable identifier of the resource at href.
func ID(href string) string {
	return integrity.NameID("resource", href)
}

// Linker hashes artifacts under Root into resources.
type Linker struct {
	Root string
}

// NewLinker returns a linker for files under root.
func NewLinker(root string) *Linker {
	return &Linker{Root: root}
}

// Link hashes one artifact. A missing file is a *MissingError.
func (l *Linker) Link(a Artifact) (Resource, error) {
	abs, err := resolve(l.Root, a.Path)
	if err != nil {
		return Resource{}, err
	}
	sum, err := integrity.DigestFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return Resource{}, &MissingError{Href: a.Path, Err: err}
	}
	if err != nil {
		return Resource{}, err
	}
	return Resource{
		UUID:  ID(a.Path),
		Title: a.Title,
		RLinks: []RLink{{
			Href:   a.Path,
			Hashes: []Hash{{Algorithm: integrity.Algorithm, Value: sum}},
		}},
	}, nil
}

// LinkAll links every artifact in order and stops at the first failure.
func (l *Linker) LinkAll(artifacts []Artifact) ([]Resource, error) {
	out := make([]Resource, 0, len(artifacts))
	for _, a := range artifacts {
		r, err := l.Link(a)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// resolve maps href onto root, refusing paths that escape it.
func resolve(root, href string) (string, error) {
	rel := filepath.FromSlash(href)
	if !filepath.IsLocal(rel) {
		return "", &MissingError{Href: href, Err: fmt.Errorf("path escapes root")}
	}
	return filepath.Join(root, rel), nil
}
