package keys

import (
	"context"
	"fmt"
	"os"

	"github.com/abctrading/tradeauth/jwt"
)

// FileSource reads a manifest from the local filesystem.
type FileSource struct {
	Path string
}

func (s FileSource) Load(ctx context.Context) (*jwt.KeySet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("keys: read %s: %w", s.Path, err)
	}
	return ParseManifest(data)
}
