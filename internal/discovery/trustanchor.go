package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultGroupCADir is where discovered group CAs land unless configured.
const DefaultGroupCADir = "./groupCA/"

// WriteTrustAnchor stores pem under dir as <groupID>_CA_<uuid>.crt and
// returns the file path. The directory is created when missing.
func WriteTrustAnchor(dir, groupID string, pem []byte) (string, error) {
	if dir == "" {
		dir = DefaultGroupCADir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create group CA dir: %w", err)
	}
	groupID = strings.NewReplacer("/", "_", `\`, "_").Replace(groupID)
	name := groupID + "_CA_" + uuid.NewString() + ".crt"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, pem, 0o644); err != nil {
		return "", fmt.Errorf("write group CA: %w", err)
	}
	return path, nil
}
