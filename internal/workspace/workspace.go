// Package workspace abstracts the shared filesystem used to exchange
// serialized task objects and staged configuration files between the master
// and its child jobs. The concrete backend is selected by the scheme of the
// workspace directory: a bare path uses local disk, "s3://" uses an
// S3-compatible object store, "sftp://" uses SFTP.
package workspace

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// FS is the minimal contract the scheduler and the child runner need from
// shared storage: write a node once before dispatch, read it once at child
// startup. No locking is required because every node writes its own
// uniquely-named key exactly once.
type FS interface {
	// Put writes data to key, creating any intermediate directories the
	// backend requires.
	Put(ctx context.Context, key string, data []byte) error
	// Get reads back the bytes previously written to key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether key has been written.
	Exists(ctx context.Context, key string) (bool, error)
	// ResolvedPath returns the backend-specific address for key, suitable
	// for handing to a child job on its command line (--task-pkl-path,
	// --remote-config-path): an absolute disk path for localFS, a
	// bucket-relative object name for s3FS, an absolute remote path for
	// sftpFS. Callers must not build this themselves (e.g. with
	// filepath.Join against the workspace root) since that silently
	// mangles a URL scheme's "://" for the s3/sftp backends.
	ResolvedPath(key string) string
}

const (
	// TaskObjectPrefix is the directory under the workspace root where
	// serialized nodes are written, one file per REMOTE dispatch.
	TaskObjectPrefix = "kannon"
	// ConfigPrefix is the directory under the workspace root where staged
	// configuration files are written.
	ConfigPrefix = "kannon/conf"
)

// TaskObjectKey returns the deterministic key a node is serialized to:
// "<workspace>/kannon/task_obj_<identity>.pkl".
func TaskObjectKey(identity string) string {
	return path.Join(TaskObjectPrefix, fmt.Sprintf("task_obj_%s.pkl", identity))
}

// ConfigKey returns the key a staged configuration file is written to:
// "<workspace>/kannon/conf/<basename>".
func ConfigKey(basename string) string {
	return path.Join(ConfigPrefix, basename)
}

// Open resolves a workspace directory URL to a concrete FS backend.
func Open(workspaceDir string) (FS, error) {
	if workspaceDir == "" {
		return nil, fmt.Errorf("workspace: empty workspace directory")
	}

	switch {
	case strings.HasPrefix(workspaceDir, "s3://"):
		u, err := url.Parse(workspaceDir)
		if err != nil {
			return nil, fmt.Errorf("workspace: invalid s3 URL %q: %w", workspaceDir, err)
		}
		return newS3FS(u)
	case strings.HasPrefix(workspaceDir, "sftp://"):
		u, err := url.Parse(workspaceDir)
		if err != nil {
			return nil, fmt.Errorf("workspace: invalid sftp URL %q: %w", workspaceDir, err)
		}
		return newSFTPFS(u)
	default:
		return newLocalFS(workspaceDir), nil
	}
}
