package resources

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/DrSkyle/eviid/pkg/integrity"
)

// Status is the outcome of re-hashing one resource.
type Status string

const (
	StatusOK       Status = "ok"
	StatusMismatch Status = "mismatch"
	StatusMissing  Status = "missing"
)

// Check is the verification result of one resource.
type Check struct {
	UUID     string `json:"uuid"`
	Title    string `json:"title"`
	Href     string `json:"href"`
	Expected string `json:"expected"`
	Actual   string `json:"actual,omitempty"`
	Status   Status `json:"status"`
	Detail   string `json:"detail,omitempty"`
}

// Report summarises a verification run.
type Report struct {
	OK        bool    `json:"ok"`
	Checked   int     `json:"checked"`
	Failed    int     `json:"failed"`
	Resources []Check `json:"resources"`
}

// Err returns a wrapped ErrIntegrity when any resource did not verify.
func (r Report) Err() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("%w: %d of %d resources did not verify", ErrIntegrity, r.Failed, r.Checked)
}

// Verify re-hashes every resource against the file under root.
func Verify(root string, res []Resource) Report {
	rep := Report{OK: true, Resources: make([]Check, 0, len(res))}
	for _, r := range res {
		c := check(root, r)
		rep.Checked++
		if c.Status != StatusOK {
			rep.Failed++
			rep.OK = false
		}
		rep.Resources = append(rep.Resources, c)
	}
	return rep
}

func check(root string, r Resource) Check {
	c := Check{UUID: r.UUID, Title: r.Title, Href: r.Href(), Expected: r.Digest()}
	if c.Href == "" {
		c.Status = StatusMissing
		c.Detail = "resource has no link"
		return c
	}

	abs, err := resolve(root, c.Href)
	if err != nil {
		c.Status = StatusMissing
		c.Detail = err.Error()
		return c
	}
	sum, err := integrity.DigestFile(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		c.Status = StatusMissing
		return c
	case err != nil:
		c.Status = StatusMissing
		c.Detail = err.Error()
		return c
	}

	c.Actual = sum
	if c.Expected == "" {
		c.Status = StatusMismatch
		c.Detail = "no " + integrity.Algorithm + " hash recorded"
		return c
	}
	if sum != c.Expected {
		c.Status = StatusMismatch
		return c
	}
	c.Status = StatusOK
	return c
}
