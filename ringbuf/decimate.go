package ringbuf

import "math"

// DecimateForView reduces a raw series to at most pmax displayed points.
// The decimation factor is ceil(n / pmax); before subsampling, a moving
// average whose window scales with the factor smooths the series to avoid
// visual aliasing. The final raw sample is always part of the output.
// Re-running on an unchanged series yields an identical result.
func DecimateForView(times, values []float64, pmax int) (outTimes, outValues []float64) {
	n := len(values)
	if n == 0 || len(times) != n {
		return []float64{}, []float64{}
	}
	if pmax <= 0 {
		pmax = 1
	}

	factor := (n + pmax - 1) / pmax
	if factor < 1 {
		factor = 1
	}
	if factor == 1 {
		outTimes = append([]float64(nil), times...)
		outValues = append([]float64(nil), values...)
		return outTimes, outValues
	}

	smoothed := smooth(values, factor)
	if smoothed == nil {
		// Smoothing must never take the pipeline down; fall back to raw.
		smoothed = values
	}

	outTimes = make([]float64, 0, n/factor+2)
	outValues = make([]float64, 0, n/factor+2)
	for i := 0; i < n; i += factor {
		outTimes = append(outTimes, times[i])
		outValues = append(outValues, smoothed[i])
	}
	if last := n - 1; last%factor != 0 {
		outTimes = append(outTimes, times[last])
		outValues = append(outValues, smoothed[last])
	}
	return outTimes, outValues
}

// smooth applies a trailing moving average with the given window length.
// Returns nil if the input contains non-finite values.
func smooth(values []float64, window int) []float64 {
	if window < 2 {
		out := append([]float64(nil), values...)
		return out
	}

	out := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		span := i + 1
		if span > window {
			span = window
		}
		out[i] = sum / float64(span)
	}
	return out
}
