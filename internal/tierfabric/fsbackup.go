package tierfabric

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/ardriveapp/turbo-upload-core/internal/breaker"
	"github.com/ardriveapp/turbo-upload-core/internal/errs"
)

// fsBackup is the durable local filesystem tier (§4.C tier 3): the
// last-resort store that backs the durability invariant when no remote
// tier commits. Paths follow §6's raw/, meta/, offsets/ layout rooted at
// baseDir, with quarantine/ as a sibling namespace.
type fsBackup struct {
	baseDir  string
	breakers *breaker.Registry
}

func newFSBackup(baseDir string, breakers *breaker.Registry) *fsBackup {
	return &fsBackup{baseDir: baseDir, breakers: breakers}
}

func (f *fsBackup) Name() string { return "fsBackup" }

func (f *fsBackup) guarded(ctx context.Context, fn func(ctx context.Context) error) error {
	err := f.breakers.Do(ctx, "fsBackup", 10*time.Second, fn)
	if err == breaker.ErrOpen {
		return errs.ErrUnavailable
	}
	return err
}

func (f *fsBackup) abs(relPath string) string {
	return filepath.Join(f.baseDir, filepath.FromSlash(relPath))
}

func (f *fsBackup) Exists(ctx context.Context, relPath string) (bool, error) {
	var found bool
	err := f.guarded(ctx, func(ctx context.Context) error {
		_, statErr := os.Stat(f.abs(relPath))
		if statErr == nil {
			found = true
			return nil
		}
		if os.IsNotExist(statErr) {
			return nil
		}
		return statErr
	})
	if err != nil {
		return false, errs.ErrUnavailable
	}
	return found, nil
}

func (f *fsBackup) GetRaw(ctx context.Context, relPath string) ([]byte, error) {
	var raw []byte
	err := f.guarded(ctx, func(ctx context.Context) error {
		b, readErr := os.ReadFile(f.abs(relPath))
		raw = b
		return readErr
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, errNotFound(relPath)
	}
	if err != nil {
		return nil, errs.ErrUnavailable
	}
	return raw, nil
}

func (f *fsBackup) PutRaw(ctx context.Context, relPath string, raw []byte, _ time.Duration) error {
	return f.writeFile(ctx, relPath, raw)
}

func (f *fsBackup) GetMetadata(ctx context.Context, relPath string) (*Metadata, error) {
	raw, err := f.GetRaw(ctx, relPath)
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errs.ErrParse
	}
	return &m, nil
}

func (f *fsBackup) PutMetadata(ctx context.Context, relPath string, m *Metadata, ttl time.Duration) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return f.PutRaw(ctx, relPath, raw, ttl)
}

func (f *fsBackup) GetOffsets(ctx context.Context, relPath string) (*NestedOffset, error) {
	raw, err := f.GetRaw(ctx, relPath)
	if err != nil {
		return nil, err
	}
	var o NestedOffset
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, errs.ErrParse
	}
	return &o, nil
}

func (f *fsBackup) PutOffsets(ctx context.Context, relPath string, o *NestedOffset, ttl time.Duration) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return f.PutRaw(ctx, relPath, raw, ttl)
}

func (f *fsBackup) writeFile(ctx context.Context, relPath string, raw []byte) error {
	return f.guarded(ctx, func(ctx context.Context) error {
		abs := f.abs(relPath)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return err
		}
		tmp := abs + ".tmp"
		if err := os.WriteFile(tmp, raw, 0o644); err != nil {
			return err
		}
		return os.Rename(tmp, abs)
	})
}

func (f *fsBackup) Delete(ctx context.Context, relPath string) error {
	return f.guarded(ctx, func(ctx context.Context) error {
		err := os.Remove(f.abs(relPath))
		if os.IsNotExist(err) {
			return nil
		}
		return err
	})
}

// Quarantine moves relPath under quarantine/, preserving its original
// sub-path so an operator can trace which tier namespace it came from.
func (f *fsBackup) Quarantine(ctx context.Context, relPath string) error {
	return f.guarded(ctx, func(ctx context.Context) error {
		src := f.abs(relPath)
		dst := f.abs(fsQuarantine(relPath))
		if _, err := os.Stat(src); os.IsNotExist(err) {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return os.Rename(src, dst)
	})
}
