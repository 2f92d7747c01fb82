package httpapi

import "embed"

// staticFiles stores the upload page directly in the binary so the container
// ships a single artifact.
//
//go:embed static
var staticFiles embed.FS
