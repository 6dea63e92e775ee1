package audio

import (
	"math"
	"testing"
	"time"
)

func TestLevelFromPeakApproximatesRMS(t *testing.T) {
	now := time.Now()
	for _, peak := range []float64{0, 0.01, 0.25, 0.5, 0.999, 1} {
		l := LevelFromPeak(peak, now)
		if l.RMS != peak*PeakToRMSRatio {
			t.Errorf("peak %v: expected rms %v, got %v", peak, peak*PeakToRMSRatio, l.RMS)
		}
		if peak > 0 && l.RMS >= l.Peak {
			t.Errorf("peak %v: expected rms < peak, got rms %v", peak, l.RMS)
		}
	}
}

func TestLevelFromPeakScenario(t *testing.T) {
	tests := []struct {
		peak   float64
		rms    float64
		db     float64
		silent bool
	}{
		{peak: 0.0, rms: 0.0, silent: true},
		{peak: 0.5, rms: 0.35, db: -9.1},
		{peak: 1.0, rms: 0.7, db: -3.1},
	}

	start := time.Now()
	for i, tt := range tests {
		l := LevelFromPeak(tt.peak, start.Add(time.Duration(i)*50*time.Millisecond))
		if math.Abs(l.RMS-tt.rms) > 1e-12 {
			t.Errorf("peak %v: expected rms %v, got %v", tt.peak, tt.rms, l.RMS)
		}
		if tt.silent {
			if !math.IsInf(l.DB, -1) {
				t.Errorf("peak %v: expected -Inf dB, got %v", tt.peak, l.DB)
			}
			continue
		}
		if math.Abs(l.DB-tt.db) > 0.05 {
			t.Errorf("peak %v: expected db ~%v, got %v", tt.peak, tt.db, l.DB)
		}
	}
}

func TestNewLevelDecibels(t *testing.T) {
	for _, rms := range []float64{1e-6, 0.001, 0.1, 0.5, 1} {
		l := NewLevel(1, rms, time.Now())
		want := 20 * math.Log10(rms)
		if l.DB != want {
			t.Errorf("rms %v: expected db %v, got %v", rms, want, l.DB)
		}
	}
}

func TestNewLevelNeverNaN(t *testing.T) {
	inputs := []struct{ peak, rms float64 }{
		{0, 0},
		{-1, -1},
		{math.NaN(), math.NaN()},
		{0.5, math.NaN()},
		{2, 3},
	}
	for _, in := range inputs {
		l := NewLevel(in.peak, in.rms, time.Now())
		if math.IsNaN(l.DB) || math.IsNaN(l.RMS) || math.IsNaN(l.Peak) {
			t.Errorf("NewLevel(%v, %v) produced NaN: %+v", in.peak, in.rms, l)
		}
		if l.RMS > l.Peak {
			t.Errorf("NewLevel(%v, %v): rms %v exceeds peak %v", in.peak, in.rms, l.RMS, l.Peak)
		}
		if l.Peak < 0 || l.Peak > 1 {
			t.Errorf("NewLevel(%v, %v): peak %v out of range", in.peak, in.rms, l.Peak)
		}
	}
}

func TestNewLevelCapsRMSAtPeak(t *testing.T) {
	l := NewLevel(0.2, 0.4, time.Now())
	if l.RMS != 0.2 {
		t.Errorf("expected rms capped to 0.2, got %v", l.RMS)
	}
}

func TestWireDB(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{math.Inf(-1), FloorDB},
		{math.NaN(), FloorDB},
		{-250, FloorDB},
		{-100, -100},
		{-9.1, -9.1},
		{0, 0},
	}
	for _, tt := range tests {
		if got := WireDB(tt.in); got != tt.want {
			t.Errorf("WireDB(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSnapshotFloorsSilence(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := LevelFromPeak(0, ts).Snapshot()
	if snap.DB != FloorDB {
		t.Errorf("expected floored db %v, got %v", FloorDB, snap.DB)
	}
	if snap.Timestamp != "2026-03-01T12:00:00Z" {
		t.Errorf("unexpected timestamp %q", snap.Timestamp)
	}
}

func TestDBLinearRoundTrip(t *testing.T) {
	for _, db := range []float64{-60, -20, -6, 0} {
		got := LinearToDB(DBToLinear(db))
		if math.Abs(got-db) > 1e-9 {
			t.Errorf("round trip %v dB gave %v", db, got)
		}
	}
	if DBToLinear(math.Inf(-1)) != 0 {
		t.Error("expected -Inf dB to map to 0")
	}
}

func TestFormatDB(t *testing.T) {
	if got := FormatDB(math.Inf(-1), 1); got != "-inf" {
		t.Errorf("expected -inf, got %q", got)
	}
	if got := FormatDB(-9.118, 1); got != "-9.1" {
		t.Errorf("expected -9.1, got %q", got)
	}
	if got := FormatDB(-3.0980, 2); got != "-3.10" {
		t.Errorf("expected -3.10, got %q", got)
	}
}
