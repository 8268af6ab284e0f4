package auth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// FileTokenProvider reads the current token from a file that an external
// login agent keeps up to date. A missing or empty file means "no update".
type FileTokenProvider struct {
	Path string
}

// NewFileTokenProvider returns a provider reading path.
func NewFileTokenProvider(path string) *FileTokenProvider {
	return &FileTokenProvider{Path: path}
}

// RequestToken returns the trimmed file contents.
func (p *FileTokenProvider) RequestToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.Path == "" {
		return "", fmt.Errorf("token file not configured")
	}

	data, err := os.ReadFile(p.Path)
	if os.IsNotExist(err) {
		slog.Debug("FileTokenProvider.RequestToken: token file absent", "path", p.Path)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token file %s: %w", p.Path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
