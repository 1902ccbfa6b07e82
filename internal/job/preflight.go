package job

import (
	"fmt"
	"log/slog"

	"github.com/shirou/gopsutil/v3/disk"
)

// checkFreeDisk refuses to start a job when the filesystem holding the
// library has less than minFree bytes available. A failing probe is logged
// but does not block the job.
func checkFreeDisk(dir string, minFree int64) error {
	if minFree <= 0 {
		return nil
	}

	usage, err := disk.Usage(dir)
	if err != nil {
		slog.Warn("could not determine free disk space", "dir", dir, "error", err)
		return nil
	}

	if usage.Free < uint64(minFree) {
		return fmt.Errorf("not enough free disk space: %d bytes available, %d required", usage.Free, minFree)
	}
	return nil
}
