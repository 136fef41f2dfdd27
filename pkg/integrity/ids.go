package integrity

import (
	"strings"

	"github.com/google/uuid"
)

// Namespace scopes every name-based identifier this tool generates.
var Namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:eviid:oscal"))

// NameID returns a stable UUID for the colon-joined parts. The same parts
// always produce the same id, so documents are reproducible across runs.
func NameID(parts ...string) string {
	return uuid.NewSHA1(Namespace, []byte(strings.Join(parts, ":"))).String()
}
