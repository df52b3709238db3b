// Package kalman smooths noisy GPS fixes with a per-user constant-velocity
// linear Kalman filter over state [lat, lon, v_lat, v_lon].
package kalman

import "math"

// Measurement is one raw GPS fix.
type Measurement struct {
	Lat, Lon  float64
	AccuracyM float64
	DT        float64 // seconds since the previous measurement
}

// Smoothed is a filtered position.
type Smoothed struct {
	Lat, Lon float64
}

// Smoother holds one user's filter state. Not safe for concurrent use by
// more than one goroutine; callers own one Smoother per active connection
// or ingest context.
type Smoother struct {
	initialized bool

	// state vector [lat, lon, v_lat, v_lon]
	x [4]float64
	// covariance, row-major 4x4
	p [4][4]float64
}

// New returns an unseeded smoother; the first Update initializes it.
func New() *Smoother {
	return &Smoother{}
}

const crossTerm = 0.1

// Update folds in one measurement and returns the smoothed position. The
// first call initializes the filter and returns the measurement unchanged.
func (s *Smoother) Update(m Measurement) Smoothed {
	if !s.initialized {
		s.x = [4]float64{m.Lat, m.Lon, 0, 0}
		s.p = diag(100)
		s.initialized = true
		return Smoothed{Lat: m.Lat, Lon: m.Lon}
	}

	dt := m.DT
	if dt <= 0 {
		dt = 1
	}

	// Predict: constant-velocity transition.
	predicted := [4]float64{
		s.x[0] + s.x[2]*dt,
		s.x[1] + s.x[3]*dt,
		s.x[2],
		s.x[3],
	}

	// Process covariance with small position<->velocity coupling.
	q := [4][4]float64{
		{0.01, 0, crossTerm, 0},
		{0, 0.01, 0, crossTerm},
		{crossTerm, 0, 0.1, 0},
		{0, crossTerm, 0, 0.1},
	}
	pPred := predictCovariance(s.p, dt, q)

	// Measurement covariance scales linearly with reported accuracy.
	accuracy := m.AccuracyM
	if accuracy <= 0 {
		accuracy = 5
	}
	r := accuracy * 1e-9 // degrees^2 scale; GPS accuracy is metres, state is degrees

	// Measurement update on [lat, lon] only (H = [[1,0,0,0],[0,1,0,0]]).
	innovLat := m.Lat - predicted[0]
	innovLon := m.Lon - predicted[1]

	sLat := pPred[0][0] + r
	sLon := pPred[1][1] + r

	kLat := [4]float64{pPred[0][0] / sLat, pPred[1][0] / sLat, pPred[2][0] / sLat, pPred[3][0] / sLat}
	kLon := [4]float64{pPred[0][1] / sLon, pPred[1][1] / sLon, pPred[2][1] / sLon, pPred[3][1] / sLon}

	var x [4]float64
	for i := 0; i < 4; i++ {
		x[i] = predicted[i] + kLat[i]*innovLat + kLon[i]*innovLon
	}

	// Covariance update: P = (I - K H) Ppred, applied component-wise for
	// the two independent scalar updates above.
	var p [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			p[i][j] = pPred[i][j] - kLat[i]*pPred[0][j] - kLon[i]*pPred[1][j]
		}
	}

	s.x = x
	s.p = p

	if !finite(x[0]) || !finite(x[1]) {
		// Numeric blow-up guard: fall back to the raw measurement and
		// reinitialize rather than propagate NaN/Inf forward.
		s.x = [4]float64{m.Lat, m.Lon, 0, 0}
		s.p = diag(100)
		return Smoothed{Lat: m.Lat, Lon: m.Lon}
	}

	return Smoothed{Lat: s.x[0], Lon: s.x[1]}
}

// Reset clears filter state; the next Update reinitializes from scratch.
func (s *Smoother) Reset() {
	s.initialized = false
	s.x = [4]float64{}
	s.p = [4][4]float64{}
}

func diag(v float64) [4][4]float64 {
	var m [4][4]float64
	for i := 0; i < 4; i++ {
		m[i][i] = v
	}
	return m
}

func predictCovariance(p [4][4]float64, dt float64, q [4][4]float64) [4][4]float64 {
	f := [4][4]float64{
		{1, 0, dt, 0},
		{0, 1, 0, dt},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}

	fp := matMul(f, p)
	fpft := matMul(fp, transpose(f))

	var out [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i][j] = fpft[i][j] + q[i][j]
		}
	}
	return out
}

func matMul(a, b [4][4]float64) [4][4]float64 {
	var out [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += a[i][k] * b[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

func transpose(a [4][4]float64) [4][4]float64 {
	var out [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[j][i] = a[i][j]
		}
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
