// Package schedule holds the recurrence arithmetic for schedule rules.
// Everything here is a pure function of its inputs so it can be tested
// without clocks or timers.
package schedule

import (
	"time"

	"github.com/loykin/taskvisor/internal/model"
)

// Next computes when rule should fire next, given the current wall-clock time.
// It returns nil for rules that never fire from periodic polling (none, startup).
//
//	interval: (lastExecuted or now) + interval
//	daily:    today at timeOfDay, or tomorrow if that is not after now
//	weekly:   next dayOfWeek at timeOfDay strictly after now
func Next(rule model.ScheduleRule, now time.Time) *time.Time {
	switch rule.Type {
	case model.ScheduleInterval:
		base := now
		if rule.LastExecuted != nil {
			base = *rule.LastExecuted
		}
		next := base.Add(rule.Interval)
		return &next
	case model.ScheduleDaily:
		next := atTimeOfDay(now, rule.TimeOfDay)
		if !next.After(now) {
			next = atTimeOfDay(now.AddDate(0, 0, 1), rule.TimeOfDay)
		}
		return &next
	case model.ScheduleWeekly:
		days := (int(rule.DayOfWeek) - int(now.Weekday()) + 7) % 7
		next := atTimeOfDay(now.AddDate(0, 0, days), rule.TimeOfDay)
		if !next.After(now) {
			next = atTimeOfDay(now.AddDate(0, 0, days+7), rule.TimeOfDay)
		}
		return &next
	default:
		return nil
	}
}

// Refresh recomputes rule.NextExecution. Call it after any change to the type,
// time of day, interval, weekday or lastExecuted.
func Refresh(rule *model.ScheduleRule, now time.Time) {
	rule.NextExecution = Next(*rule, now)
}

// MarkExecuted records a successful dispatch at t and recomputes the next run.
func MarkExecuted(rule *model.ScheduleRule, t time.Time) {
	rule.LastExecuted = &t
	Refresh(rule, t)
}

// atTimeOfDay returns midnight of day's calendar date plus offset, in day's location.
// Going through time.Date keeps the wall clock right across DST changes.
func atTimeOfDay(day time.Time, offset time.Duration) time.Time {
	y, m, d := day.Date()
	h := int(offset / time.Hour)
	mi := int(offset % time.Hour / time.Minute)
	s := int(offset % time.Minute / time.Second)
	ns := int(offset % time.Second)
	return time.Date(y, m, d, h, mi, s, ns, day.Location())
}
