package infra

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactFile は有効なライセンスアーティファクトのディスク上の写しを管理する。
type ArtifactFile struct {
	path string
}

// NewArtifactFile は新しいArtifactFileを生成する。
func NewArtifactFile(path string) *ArtifactFile {
	return &ArtifactFile{path: path}
}

// Read はアーティファクトを読み込む。ファイルが無い場合は空文字を返す。
func (f *ArtifactFile) Read(ctx context.Context) (string, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading license file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Write はアーティファクトを書き込む。一時ファイルへ書いてからリネームする。
func (f *ArtifactFile) Write(ctx context.Context, artifact string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating license directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".license-*")
	if err != nil {
		return fmt.Errorf("creating temp license file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(artifact); err != nil {
		tmp.Close()
		return fmt.Errorf("writing license file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting license file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing license file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing license file: %w", err)
	}
	return nil
}

// Clear はアーティファクトのファイルを削除する。存在しない場合は何もしない。
func (f *ArtifactFile) Clear(ctx context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing license file: %w", err)
	}
	return nil
}
