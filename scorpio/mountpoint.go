package scorpio

import (
	"os"
	"path/filepath"

	"github.com/monogit/monogit/config"
)

// mountpointFor chooses a host directory for a mount task, named by its
// request id so concurrent mounts never collide.
func mountpointFor(cfg *config.AppConfig, requestID string) string {
	return filepath.Join(cfg.DataDir(), "scorpio-mounts", requestID)
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
