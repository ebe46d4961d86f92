package audit

import "time"

// Stats aggregates the ledger: counts per event type and per plugin,
// execution timing matched by execution id, and denial counts.
type Stats struct {
	TotalEntries      int               `json:"total_entries"`
	ByType            map[EventType]int `json:"by_type"`
	ByPlugin          map[string]int    `json:"by_plugin"`
	Executions        int               `json:"executions"`
	AverageDuration   time.Duration     `json:"average_duration"`
	SuccessRate       float64           `json:"success_rate"`
	ResourceDenials   int               `json:"resource_denials"`
	PermissionDenials int               `json:"permission_denials"`
}

// Statistics computes aggregate statistics over the whole log.
func (l *Log) Statistics() Stats {
	return computeStats(l.snapshot())
}

// computeStats derives statistics from a slice of entries. Action triples
// are matched by execution id: a started entry paired with a completed or
// failed entry counts as one finished execution.
func computeStats(entries []Entry) Stats {
	s := Stats{
		TotalEntries: len(entries),
		ByType:       make(map[EventType]int),
		ByPlugin:     make(map[string]int),
	}

	started := make(map[string]bool)
	var finished, succeeded int
	var totalDuration time.Duration

	for _, e := range entries {
		s.ByType[e.Type]++
		if e.PluginID != "" {
			s.ByPlugin[e.PluginID]++
		}

		switch e.Type {
		case EventActionStarted:
			if e.ExecutionID != "" {
				started[e.ExecutionID] = true
			}
		case EventActionCompleted:
			if started[e.ExecutionID] {
				finished++
				succeeded++
				totalDuration += e.Duration
			}
		case EventActionFailed:
			if started[e.ExecutionID] {
				finished++
				totalDuration += e.Duration
			}
		case EventResourceDenied:
			s.ResourceDenials++
		case EventPermissionDenied:
			s.PermissionDenials++
		}
	}

	s.Executions = finished
	if finished > 0 {
		s.AverageDuration = totalDuration / time.Duration(finished)
		s.SuccessRate = float64(succeeded) / float64(finished)
	}
	return s
}

// Export bundles a (possibly time-filtered) entry slice with statistics
// computed over exactly that slice.
type Export struct {
	GeneratedAt time.Time `json:"generated_at"`
	From        time.Time `json:"from,omitempty"`
	To          time.Time `json:"to,omitempty"`
	Entries     []Entry   `json:"entries"`
	Stats       Stats     `json:"stats"`
}

// ExportRange produces an export of the entries between from and to.
// Zero bounds are open.
func (l *Log) ExportRange(from, to time.Time) *Export {
	entries := l.Between(from, to)
	return &Export{
		GeneratedAt: time.Now(),
		From:        from,
		To:          to,
		Entries:     entries,
		Stats:       computeStats(entries),
	}
}
