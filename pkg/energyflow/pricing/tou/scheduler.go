package tou

import (
	"fmt"
	"time"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/config"
)

type window struct {
	days     [7]bool
	startMin int
	endMin   int
	peak     float64
}

// Scheduler prices consumption by time-of-use windows. Hours outside every
// window pay the off-peak rate.
type Scheduler struct {
	windows []window
	offPeak float64
}

// New parses the schedules. They are expected to have passed config
// validation; malformed entries are still rejected here.
func New(schedules []config.Schedule) (*Scheduler, error) {
	if len(schedules) == 0 {
		return nil, fmt.Errorf("time-of-use pricing needs at least one schedule")
	}

	s := &Scheduler{offPeak: schedules[0].OffPeakRate}
	for i, schedule := range schedules {
		w := window{peak: schedule.PeakRate}
		for _, d := range schedule.DayOfWeek {
			if d < '0' || d > '6' {
				return nil, fmt.Errorf("schedule %d: invalid day of week %c", i, d)
			}
			w.days[d-'0'] = true
		}

		var err error
		if w.startMin, err = minuteOfDay(schedule.StartTime); err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
		if w.endMin, err = minuteOfDay(schedule.EndTime); err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
		s.windows = append(s.windows, w)
	}
	return s, nil
}

// Rate returns the peak rate of the first window containing t, otherwise the
// off-peak rate. Windows include their start and exclude their end.
func (s *Scheduler) Rate(t time.Time) float64 {
	minute := t.Hour()*60 + t.Minute()
	for _, w := range s.windows {
		if !w.days[t.Weekday()] {
			continue
		}
		if minute >= w.startMin && minute < w.endMin {
			return w.peak
		}
	}
	return s.offPeak
}

// OffPeakRate is the rate outside every window.
func (s *Scheduler) OffPeakRate() float64 {
	return s.offPeak
}

func minuteOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("invalid time format: %s (must be HH:MM in 24h format)", hhmm)
	}
	return t.Hour()*60 + t.Minute(), nil
}
