package romdl

import "time"

const (
	// DefaultSampleInterval is the minimum time between speed samples.
	DefaultSampleInterval = 3 * time.Second

	// DefaultSpeedWindow is how many instantaneous samples are averaged.
	DefaultSpeedWindow = 5
)

// SpeedMeter smooths transfer speed. A new instantaneous sample is taken
// only once minInterval has elapsed since the previous one; the reported
// speed is the mean of the last window samples, newest included.
// SpeedMeter is not safe for concurrent use.
type SpeedMeter struct {
	clock       Clock
	minInterval time.Duration
	window      int

	lastTime  time.Time
	lastBytes int64
	samples   []float64
	speed     float64
}

// NewSpeedMeter creates a meter. Non-positive arguments select the defaults.
func NewSpeedMeter(clock Clock, minInterval time.Duration, window int) *SpeedMeter {
	if minInterval <= 0 {
		minInterval = DefaultSampleInterval
	}
	if window <= 0 {
		window = DefaultSpeedWindow
	}
	m := &SpeedMeter{clock: clock, minInterval: minInterval, window: window}
	m.Reset(0)
	return m
}

// Reset starts a fresh measurement at the given byte count.
func (m *SpeedMeter) Reset(bytes int64) {
	m.lastTime = m.clock.Now()
	m.lastBytes = bytes
	m.samples = m.samples[:0]
	m.speed = 0
}

// Observe records the current byte count and returns the smoothed speed in
// bytes per second. sampled is true when a new sample was taken.
func (m *SpeedMeter) Observe(bytes int64) (speed float64, sampled bool) {
	now := m.clock.Now()
	elapsed := now.Sub(m.lastTime)
	if elapsed < m.minInterval {
		return m.speed, false
	}

	delta := bytes - m.lastBytes
	if delta < 0 {
		delta = 0
	}
	m.samples = append(m.samples, float64(delta)/elapsed.Seconds())
	if len(m.samples) > m.window {
		m.samples = m.samples[len(m.samples)-m.window:]
	}

	var sum float64
	for _, s := range m.samples {
		sum += s
	}
	m.speed = sum / float64(len(m.samples))
	m.lastTime = now
	m.lastBytes = bytes
	return m.speed, true
}

// Speed returns the last smoothed speed.
func (m *SpeedMeter) Speed() float64 {
	return m.speed
}

// RemainingTime estimates seconds left; 0 when speed or total is unknown.
func RemainingTime(total, downloaded int64, speed float64) float64 {
	if speed <= 0 || total <= 0 || downloaded >= total {
		return 0
	}
	return float64(total-downloaded) / speed
}
