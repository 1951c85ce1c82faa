package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Zone is the throttling band derived from system load.
type Zone string

const (
	ZoneGreen  Zone = "green"
	ZoneYellow Zone = "yellow"
	ZoneRed    Zone = "red"
)

const (
	yellowThreshold = 40.0
	redThreshold    = 85.0
)

// Load is a CPU and RAM utilization sample in percent.
type Load struct {
	CPU float64 `json:"cpu"`
	RAM float64 `json:"ram"`
}

// Zone classifies the sample: red when either CPU or RAM reaches 85%,
// yellow from 40%, green below.
func (l Load) Zone() Zone {
	switch {
	case l.CPU >= redThreshold || l.RAM >= redThreshold:
		return ZoneRed
	case max(l.CPU, l.RAM) >= yellowThreshold:
		return ZoneYellow
	default:
		return ZoneGreen
	}
}

// Sampler reads the current system load.
type Sampler interface {
	Sample(ctx context.Context) (Load, error)
}

// SystemSampler samples host CPU and memory through gopsutil.
type SystemSampler struct {
	// Window is how long CPU usage is measured. Zero compares against the
	// previous call.
	Window time.Duration
}

func (s SystemSampler) Sample(ctx context.Context) (Load, error) {
	percents, err := cpu.PercentWithContext(ctx, s.Window, false)
	if err != nil {
		return Load{}, fmt.Errorf("failed to sample cpu: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Load{}, fmt.Errorf("failed to sample memory: %w", err)
	}

	load := Load{RAM: vm.UsedPercent}
	if len(percents) > 0 {
		load.CPU = percents[0]
	}

	return load, nil
}
