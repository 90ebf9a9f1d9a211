package supervisor

import (
	"testing"
	"time"

	"github.com/asteroniris-dev/asteroniris/internal/config"
)

func at(hhmm string) time.Time {
	t, _ := time.Parse("15:04", hhmm)
	return time.Date(2025, 6, 1, t.Hour(), t.Minute(), 0, 0, time.UTC)
}

func TestWithinActiveHoursPlainWindow(t *testing.T) {
	hours := &config.ActiveHoursConfig{Start: "09:00", End: "17:00"}
	if !withinActiveHours(at("12:00"), hours) {
		t.Error("noon should be active")
	}
	if withinActiveHours(at("08:59"), hours) {
		t.Error("before start should be inactive")
	}
	if withinActiveHours(at("17:00"), hours) {
		t.Error("end boundary should be inactive")
	}
}

func TestWithinActiveHoursWrapsMidnight(t *testing.T) {
	hours := &config.ActiveHoursConfig{Start: "22:00", End: "06:00"}
	if !withinActiveHours(at("23:30"), hours) {
		t.Error("23:30 should be active")
	}
	if !withinActiveHours(at("03:00"), hours) {
		t.Error("03:00 should be active")
	}
	if withinActiveHours(at("12:00"), hours) {
		t.Error("noon should be inactive")
	}
}

func TestWithinActiveHoursAbsentWindowAlwaysActive(t *testing.T) {
	if !withinActiveHours(at("04:00"), nil) {
		t.Error("nil window must always be active")
	}
	if !withinActiveHours(at("04:00"), &config.ActiveHoursConfig{}) {
		t.Error("empty window must always be active")
	}
}
