package analytics

// RollingWindow is a fixed-capacity ring buffer of samples. Once full, each
// Add evicts the oldest sample.
type RollingWindow struct {
	windowSize int
	values     []float64
	index      int
	count      int
}

func NewRollingWindow(size int) *RollingWindow {
	if size < 1 {
		size = 1
	}
	return &RollingWindow{
		windowSize: size,
		values:     make([]float64, size),
	}
}

// Add stores value in the slot of the oldest sample once the window is full.
func (rw *RollingWindow) Add(value float64) {
	rw.values[rw.index] = value
	rw.index = (rw.index + 1) % rw.windowSize
	if rw.count < rw.windowSize {
		rw.count++
	}
}

func (rw *RollingWindow) Len() int {
	return rw.count
}

func (rw *RollingWindow) Cap() int {
	return rw.windowSize
}

// Values returns a copy of the samples, oldest first.
func (rw *RollingWindow) Values() []float64 {
	return rw.Last(rw.count)
}

// Last returns a copy of the n most recent samples, oldest first.
func (rw *RollingWindow) Last(n int) []float64 {
	if n > rw.count {
		n = rw.count
	}
	if n <= 0 {
		return nil
	}

	out := make([]float64, n)
	start := rw.index - n
	if start < 0 {
		start += rw.windowSize
	}
	for i := 0; i < n; i++ {
		out[i] = rw.values[(start+i)%rw.windowSize]
	}
	return out
}

// At returns the sample at position i counted back from the newest (0 = newest).
func (rw *RollingWindow) At(i int) (float64, bool) {
	if i < 0 || i >= rw.count {
		return 0, false
	}
	pos := rw.index - 1 - i
	if pos < 0 {
		pos += rw.windowSize
	}
	return rw.values[pos], true
}

// Previous returns the sample added just before the newest one.
func (rw *RollingWindow) Previous() (float64, bool) {
	return rw.At(1)
}
