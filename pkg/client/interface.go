package client

import (
	"context"
	"errors"
)

// ErrMissingCredential marks a backend rejection caused by absent or
// invalid credentials. It is fatal to a batch run: there is no point
// retrying the remaining documents against the same backend.
var ErrMissingCredential = errors.New("missing or invalid analyzer credential")

// VisionClient is one vision-model backend. Query sends a prompt plus a
// base64 image and returns the raw model text; parsing into structured
// results happens in pkg/detection. Implementations must honor ctx so an
// in-flight call can be interrupted by cancellation.
type VisionClient interface {
	Query(ctx context.Context, model, prompt, imgB64 string) (string, error)
}
