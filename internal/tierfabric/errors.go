package tierfabric

import (
	"fmt"

	"github.com/ardriveapp/turbo-upload-core/internal/errs"
)

// errNotFound wraps the shared ErrNotFound sentinel with the offending key,
// since every tier needs the same "miss" shape for fabric.go to distinguish
// a genuine absence from an unavailable tier.
func errNotFound(key string) error {
	return fmt.Errorf("%w: key %q", errs.ErrNotFound, key)
}
