package restart

import (
	"context"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessProbe finds running processes for a driver.
type ProcessProbe interface {
	PIDs(driver string) ([]int32, error)
}

// SystemProbe looks drivers up in the host process table.
type SystemProbe struct {
	Timeout time.Duration
}

// PIDs returns the PIDs of processes whose executable name is driver.
func (p SystemProbe) PIDs(driver string) ([]int32, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var pids []int32
	for _, proc := range procs {
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			continue
		}
		// Linux truncates comm to 15 bytes.
		if name == driver || (len(name) == 15 && len(driver) > 15 && driver[:15] == name) {
			pids = append(pids, proc.Pid)
			continue
		}
		if exe, err := proc.ExeWithContext(ctx); err == nil && filepath.Base(exe) == driver {
			pids = append(pids, proc.Pid)
		}
	}
	return pids, nil
}
