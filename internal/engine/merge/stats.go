package merge

import (
	"math"

	"Go2FlowSpectra/internal/model"
)

// CombineStats folds two (n, mean, stdev) summaries into the summary of the
// concatenated sample. Each side's sum of squares is recovered as
// n*(stdev^2 + mean^2); the result uses the population standard deviation.
func CombineStats(a, b model.Stats) model.Stats {
	if b.N == 0 {
		return a
	}
	if a.N == 0 {
		return b
	}
	na, nb := float64(a.N), float64(b.N)
	n := na + nb

	sum := a.Mean*na + b.Mean*nb
	ss := na*(a.Stdev*a.Stdev+a.Mean*a.Mean) + nb*(b.Stdev*b.Stdev+b.Mean*b.Mean)
	mean := sum / n

	out := model.Stats{
		N:     a.N + b.N,
		Min:   min(a.Min, b.Min),
		Max:   max(a.Max, b.Max),
		Mean:  mean,
		Stdev: math.Sqrt(math.Abs(ss/n - mean*mean)),
	}
	out.Hist = weightedHist(a.Hist, na, b.Hist, nb)
	return out
}

// Sample returns the summary of a single observation.
func Sample(v uint32) model.Stats {
	return model.Stats{N: 1, Min: v, Max: v, Mean: float64(v)}
}

// weightedHist averages two histograms by sample weight and rescales the result
// to 0-255. Buckets either side contributed to never drop to zero.
func weightedHist(a [8]uint8, wa float64, b [8]uint8, wb float64) [8]uint8 {
	var vals [8]float64
	var used [8]bool
	for i := range vals {
		vals[i] = (float64(a[i])*wa + float64(b[i])*wb) / (wa + wb)
		used[i] = a[i] > 0 || b[i] > 0
	}
	return rescale(vals, used)
}

// SumHist adds two histograms and rescales the result to 0-255, keeping non-zero
// buckets at 1 or more.
func SumHist(a, b [8]uint8) [8]uint8 {
	var vals [8]float64
	var used [8]bool
	for i := range vals {
		vals[i] = float64(a[i]) + float64(b[i])
		used[i] = vals[i] > 0
	}
	return rescale(vals, used)
}

func rescale(vals [8]float64, used [8]bool) [8]uint8 {
	var top float64
	for _, v := range vals {
		top = max(top, v)
	}
	var out [8]uint8
	if top == 0 {
		return out
	}
	for i, v := range vals {
		s := math.Round(v * 255 / top)
		if s < 1 && used[i] {
			s = 1
		}
		out[i] = uint8(s)
	}
	return out
}
