/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dispatch

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Uploader moves a local report directory to served storage and returns the
// base URL it is reachable under.
type Uploader interface {
	Upload(ctx context.Context, localDir, keyPrefix string) (string, error)
}

// FSUploader copies reports into a directory served by the API under
// /artifacts/.
type FSUploader struct {
	root    string
	baseURL string
}

// NewFSUploader creates a filesystem uploader rooted at root, serving under
// baseURL (e.g. http://host/artifacts).
func NewFSUploader(root, baseURL string) *FSUploader {
	return &FSUploader{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Upload copies localDir into root/keyPrefix. Re-uploading the same prefix
// replaces the previous content.
func (u *FSUploader) Upload(ctx context.Context, localDir, keyPrefix string) (string, error) {
	dest := filepath.Join(u.root, filepath.FromSlash(keyPrefix))
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("clear artifact destination: %w", err)
	}
	if err := copyDir(ctx, localDir, dest); err != nil {
		return "", err
	}
	return u.baseURL + "/" + keyPrefix + "/", nil
}

func copyDir(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
