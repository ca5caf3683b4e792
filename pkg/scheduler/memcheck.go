package scheduler

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/AndPuQing/gflow/pkg/models"
)

// checkFreeMemory rejects a submission whose memory_mb hint exceeds
// currently free host memory. This is a one-time admission check, not an
// enforced limit: the scheduler never revisits it once the job runs.
func checkFreeMemory(requestedMB int) error {
	vm, err := mem.VirtualMemory()
	if err != nil {
		// Probe failure should not block submission; the hint is
		// advisory and best-effort.
		return nil
	}
	freeMB := vm.Available / (1024 * 1024)
	if uint64(requestedMB) > freeMB {
		return &models.ValidationError{
			Field:  "memory_mb",
			Detail: fmt.Sprintf("requested %dMB exceeds %dMB free", requestedMB, freeMB),
		}
	}
	return nil
}
