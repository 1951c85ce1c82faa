package governor

import "time"

// Mode selects the launch budget of a resume pass.
type Mode string

const (
	// ModeStartup resumes a capped batch with the larger stagger.
	ModeStartup Mode = "startup"
	// ModeWatchdog fills free slots with the smaller stagger.
	ModeWatchdog Mode = "watchdog"
)

// Plan is the launch decision for one pass.
type Plan struct {
	Zone    Zone          `json:"zone"`
	Launch  int           `json:"launch"`
	Stagger time.Duration `json:"stagger"`
}

// Plan decides how many of pending missions to launch and how far apart.
func (g *Governor) Plan(load Load, mode Mode, pending, running int) Plan {
	plan := Plan{Zone: load.Zone()}

	if plan.Zone == ZoneRed || pending <= 0 {
		return plan
	}

	switch mode {
	case ModeStartup:
		plan.Stagger = g.config.StartupStagger
		plan.Launch = min(pending, g.config.StartupBatch)
	default:
		plan.Stagger = g.config.WatchdogStagger
		plan.Launch = min(pending, max(0, g.config.Capacity-running))
	}

	if plan.Zone == ZoneYellow {
		plan.Stagger *= 2
	}

	return plan
}
