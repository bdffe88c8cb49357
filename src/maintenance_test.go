package src

import (
	"testing"
	"time"
)

func TestDueSchedule(t *testing.T) {
	at := func(hhmm string) time.Time {
		tm, err := time.Parse("1504", hhmm)
		if err != nil {
			t.Fatal(err)
		}
		return tm.Add(17 * time.Second)
	}

	tests := []struct {
		name      string
		schedules []string
		now       time.Time
		last      string
		wantSlot  string
		wantDue   bool
	}{
		{name: "matching slot", schedules: []string{"0600", "1800"}, now: at("1800"), wantSlot: "1800", wantDue: true},
		{name: "already ran", schedules: []string{"0600", "1800"}, now: at("1800"), last: "1800"},
		{name: "same slot next day", schedules: []string{"0600"}, now: at("0600"), last: "1800", wantSlot: "0600", wantDue: true},
		{name: "no matching slot", schedules: []string{"0600"}, now: at("0601")},
		{name: "no schedules", now: at("0600")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot, due := dueSchedule(tt.schedules, tt.now, tt.last)
			if slot != tt.wantSlot || due != tt.wantDue {
				t.Errorf("dueSchedule() = %q, %v, want %q, %v", slot, due, tt.wantSlot, tt.wantDue)
			}
		})
	}
}
