package analysis

import "fmt"

// AthleteProfile holds the physiological parameters the calculators need.
type AthleteProfile struct {
	RestingHR      float64
	MaxHR          float64
	ThresholdHR    float64
	FTPWatts       float64
	SleepNeedHours float64
}

// DefaultProfile returns sensible defaults if not configured
func DefaultProfile() AthleteProfile {
	return AthleteProfile{
		RestingHR:      50,
		MaxHR:          185,
		ThresholdHR:    165,
		FTPWatts:       200,
		SleepNeedHours: 8,
	}
}

// Physiological bounds. Values outside these are substituted with the
// default rather than producing an out-of-range or NaN score.
const (
	MinRestingHR = 30
	MaxRestingHR = 100
	MinMaxHR     = 100
	MaxMaxHR     = 220
	MinFTP       = 50
	MaxFTP       = 600
	MinSleepNeed = 4
	MaxSleepNeed = 12
)

// RangeWarning records a substituted out-of-range profile value.
type RangeWarning struct {
	Field       string
	Value       float64
	Substituted float64
}

func (w RangeWarning) String() string {
	return fmt.Sprintf("%s=%v outside physiological range, using %v", w.Field, w.Value, w.Substituted)
}

// Sanitize validates the profile against physiological ranges, substituting
// the default for any value outside them. The returned warnings are meant to
// be logged by the caller; Sanitize itself performs no I/O.
func (p AthleteProfile) Sanitize() (AthleteProfile, []RangeWarning) {
	defaults := DefaultProfile()
	var warnings []RangeWarning

	check := func(field string, value, min, max, def float64) float64 {
		if value < min || value > max {
			warnings = append(warnings, RangeWarning{Field: field, Value: value, Substituted: def})
			return def
		}
		return value
	}

	p.RestingHR = check("resting_hr", p.RestingHR, MinRestingHR, MaxRestingHR, defaults.RestingHR)
	p.MaxHR = check("max_hr", p.MaxHR, MinMaxHR, MaxMaxHR, defaults.MaxHR)
	p.FTPWatts = check("ftp_watts", p.FTPWatts, MinFTP, MaxFTP, defaults.FTPWatts)
	p.SleepNeedHours = check("sleep_need_hours", p.SleepNeedHours, MinSleepNeed, MaxSleepNeed, defaults.SleepNeedHours)

	// Threshold HR must sit between resting and max
	if p.ThresholdHR <= p.RestingHR || p.ThresholdHR >= p.MaxHR {
		substituted := p.MaxHR * 0.88
		warnings = append(warnings, RangeWarning{Field: "threshold_hr", Value: p.ThresholdHR, Substituted: substituted})
		p.ThresholdHR = substituted
	}

	return p, warnings
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
