package src

import (
	"context"
	"errors"
	"slices"
	"time"
)

// maintenanceInterval is well below a minute so no HHMM slot is missed.
var maintenanceInterval = 20 * time.Second

// dueSchedule returns the HHMM slot matching now unless it already ran.
func dueSchedule(schedules []string, now time.Time, last string) (string, bool) {
	slot := now.Format("1504")
	if slot == last || !slices.Contains(schedules, slot) {
		return "", false
	}
	return slot, true
}

// StartMaintenance runs an update at every time listed in "update" until
// ctx is done.
func (a *App) StartMaintenance(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	var last string

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			slot, ok := dueSchedule(a.Settings.Update, t, last)
			if !ok {
				continue
			}
			last = slot

			a.Screen.Info("Scheduled update:" + slot)
			if _, err := a.Update(ctx); errors.Is(err, ErrRunInProgress) {
				a.Screen.Warning("Scheduled update skipped, another update is running")
			}
		}
	}
}
