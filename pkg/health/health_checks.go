package health

import (
	"fmt"
	"runtime"
	"time"

	"github.com/dd0wney/cluso-assembler/pkg/graph"
	"github.com/dd0wney/cluso-assembler/pkg/links"
)

// maxListedStuck caps the ids reported in check details
const maxListedStuck = 20

// StuckEntitiesCheck reports entities that have sat in one lifecycle stage
// for longer than the registry was asked about. One or more stuck entities
// degrade the session; more than unhealthyAt make it unhealthy.
func StuckEntitiesCheck(getStuck func() []graph.StuckEntity, unhealthyAt int) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "stuck_entities",
			Details: make(map[string]any),
		}

		stuck := getStuck()
		check.Details["count"] = len(stuck)

		if len(stuck) > 0 {
			listed := stuck[:min(len(stuck), maxListedStuck)]
			ids := make([]int64, 0, len(listed))
			var waitingOn []int64
			for _, s := range listed {
				ids = append(ids, s.ID)
				if s.HasParent && !s.ParentKnown {
					waitingOn = append(waitingOn, s.ParentID)
				}
			}
			check.Details["ids"] = ids
			if len(waitingOn) > 0 {
				check.Details["missing_parents"] = waitingOn
			}
			check.Details["oldest"] = oldest(stuck).String()
		}

		switch {
		case len(stuck) == 0:
			check.Status = StatusHealthy
			check.Message = "No stuck entities"
		case unhealthyAt > 0 && len(stuck) > unhealthyAt:
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("%d entities stuck", len(stuck))
		default:
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("%d entities stuck", len(stuck))
		}

		return check
	}
}

func oldest(stuck []graph.StuckEntity) time.Duration {
	var d time.Duration
	for _, s := range stuck {
		d = max(d, s.Age)
	}
	return d
}

// PipelineCheck reports link import outcomes. The pipeline is degraded when
// the share of timed out or unexpected links exceeds maxDropRatio.
func PipelineCheck(getTotals func() links.Totals, maxDropRatio float64) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "link_pipeline",
			Details: make(map[string]any),
		}

		t := getTotals()
		check.Details["totals"] = t

		accounted := t.Accounted()
		if accounted == 0 {
			check.Status = StatusHealthy
			check.Message = "No links processed"
			return check
		}

		dropRatio := float64(t.TimedOut+t.Unexpected) / float64(accounted)
		check.Details["drop_ratio"] = dropRatio

		if dropRatio > maxDropRatio {
			check.Status = StatusDegraded
			check.Message = "High link drop ratio"
		} else {
			check.Status = StatusHealthy
			check.Message = "Link import healthy"
		}

		return check
	}
}

// ReadyCheck reports whether enough of the graph is announced for link
// import to proceed.
func ReadyCheck(getReady func() (ready, known int), threshold float64) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "graph_ready",
			Details: make(map[string]any),
		}

		ready, known := getReady()
		check.Details["ready"] = ready
		check.Details["known"] = known

		if known > 0 && float64(ready)/float64(known) >= threshold {
			check.Status = StatusHealthy
			check.Message = "Graph ready"
		} else {
			check.Status = StatusUnhealthy
			check.Message = "Graph assembling"
		}

		return check
	}
}

// LoopCheck reports the consuming loop's command backlog. A backlog above
// degradedAt means ticks are falling behind; above unhealthyAt the loop is
// treated as wedged.
func LoopCheck(getPending func() int, degradedAt, unhealthyAt int) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "frame_loop",
			Details: make(map[string]any),
		}

		pending := getPending()
		check.Details["pending"] = pending

		switch {
		case unhealthyAt > 0 && pending > unhealthyAt:
			check.Status = StatusUnhealthy
			check.Message = "Command backlog critical"
		case degradedAt > 0 && pending > degradedAt:
			check.Status = StatusDegraded
			check.Message = "Command backlog growing"
		default:
			check.Status = StatusHealthy
			check.Message = "Loop keeping up"
		}

		return check
	}
}

// RuntimeMemory returns heap allocation and memory obtained from the OS
func RuntimeMemory() (alloc, sys uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc, m.Sys
}

// MemoryCheck reports heap usage against the memory obtained from the OS
func MemoryCheck(getUsage func() (alloc, sys uint64)) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "memory",
			Details: make(map[string]any),
		}

		alloc, sys := getUsage()

		check.Details["alloc_bytes"] = alloc
		check.Details["sys_bytes"] = sys

		usagePercent := float64(alloc) / float64(sys) * 100

		if usagePercent > 90 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}

		return check
	}
}
