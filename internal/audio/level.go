package audio

import (
	"math"
	"strconv"
	"time"

	"github.com/oszuidwest/zwfm-levelmon/internal/types"
)

const (
	// PeakToRMSRatio approximates RMS from a peak-only meter reading.
	PeakToRMSRatio = 0.7
	// FloorDB replaces negative infinity wherever a finite value is required.
	FloorDB = -100.0
)

// Level is an immutable snapshot of one audio measurement.
// RMS never exceeds Peak, and DB is negative infinity (never NaN) when RMS is zero.
type Level struct {
	Timestamp time.Time
	RMS       float64
	DB        float64
	Peak      float64
}

// NewLevel builds a Level from linear peak and RMS values.
// Both inputs are clamped to [0,1] and RMS is capped at the peak.
func NewLevel(peak, rms float64, ts time.Time) Level {
	peak = clampUnit(peak)
	rms = min(clampUnit(rms), peak)
	return Level{
		Timestamp: ts,
		RMS:       rms,
		DB:        LinearToDB(rms),
		Peak:      peak,
	}
}

// LevelFromPeak builds a Level for meters that only expose a peak reading.
func LevelFromPeak(peak float64, ts time.Time) Level {
	peak = clampUnit(peak)
	return NewLevel(peak, peak*PeakToRMSRatio, ts)
}

// Snapshot converts the level to its wire form with a finite dB value.
func (l Level) Snapshot() types.LevelSnapshot {
	return types.LevelSnapshot{
		Timestamp: l.Timestamp.Format(time.RFC3339Nano),
		RMS:       l.RMS,
		DB:        WireDB(l.DB),
		Peak:      l.Peak,
	}
}

// LinearToDB converts a linear amplitude to dBFS.
func LinearToDB(linear float64) float64 {
	if linear <= 0 || math.IsNaN(linear) {
		return math.Inf(-1)
	}
	return 20 * math.Log10(linear)
}

// DBToLinear converts dBFS to a linear amplitude.
func DBToLinear(db float64) float64 {
	if math.IsInf(db, -1) || math.IsNaN(db) {
		return 0
	}
	return math.Pow(10, db/20)
}

// WireDB returns db with negative infinity and anything below FloorDB replaced by FloorDB.
func WireDB(db float64) float64 {
	if math.IsNaN(db) || db < FloorDB {
		return FloorDB
	}
	return db
}

// FormatDB renders a dB value with the given number of decimals, or "-inf".
func FormatDB(db float64, precision int) string {
	if math.IsInf(db, -1) {
		return "-inf"
	}
	return strconv.FormatFloat(db, 'f', precision, 64)
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return min(v, 1)
}
