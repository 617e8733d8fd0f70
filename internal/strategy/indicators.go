// Package strategy implements §4.7: the strategy host contract, its
// runtime context, and the pure indicator library. Grounded on the
// teacher's indicators.go (SMA/RSI) generalized to work over []float64
// price sequences instead of []Candle, plus EMA/Bollinger adapted in the
// same style per spec.md §4.7's indicator list.
package strategy

import "math"

// SMA returns the n-period simple moving average of prices, aligned to the
// input. Per §4.7, indices before a full window return NaN, and the whole
// result is empty if the input is shorter than the period.
func SMA(prices []float64, n int) []float64 {
	if n <= 0 || len(prices) < n {
		return nil
	}
	out := make([]float64, len(prices))
	var sum float64
	for i, p := range prices {
		sum += p
		if i >= n {
			sum -= prices[i-n]
		}
		if i >= n-1 {
			out[i] = sum / float64(n)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// EMA returns the n-period exponential moving average, seeded with the
// SMA of the first n prices.
func EMA(prices []float64, n int) []float64 {
	if n <= 0 || len(prices) < n {
		return nil
	}
	out := make([]float64, len(prices))
	for i := 0; i < n-1; i++ {
		out[i] = math.NaN()
	}
	var seed float64
	for i := 0; i < n; i++ {
		seed += prices[i]
	}
	seed /= float64(n)
	out[n-1] = seed
	k := 2.0 / (float64(n) + 1.0)
	for i := n; i < len(prices); i++ {
		out[i] = prices[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI returns the n-period Relative Strength Index using Wilder's
// smoothing, adapted from the teacher's indicators.go RSI (which works
// over []Candle) to a plain []float64 input.
func RSI(prices []float64, n int) []float64 {
	if n <= 0 || len(prices) < n+1 {
		return nil
	}
	out := make([]float64, len(prices))
	var gain, loss float64
	for i := 1; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		switch {
		case i <= n:
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
			if i == n {
				out[i] = rsiFromAvg(gain/float64(n), loss/float64(n))
			}
		default:
			if d > 0 {
				gain = (gain*float64(n-1) + d) / float64(n)
				loss = (loss * float64(n-1)) / float64(n)
			} else {
				gain = (gain * float64(n-1)) / float64(n)
				loss = (loss*float64(n-1) - d) / float64(n)
			}
			out[i] = rsiFromAvg(gain, loss)
		}
	}
	return out
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// BollingerBands returns the n-period middle (SMA), upper (+k*std), and
// lower (-k*std) bands.
func BollingerBands(prices []float64, n int, k float64) (mid, upper, lower []float64) {
	if n <= 0 || len(prices) < n {
		return nil, nil, nil
	}
	mid = SMA(prices, n)
	upper = make([]float64, len(prices))
	lower = make([]float64, len(prices))
	var sum, sumSq float64
	for i, p := range prices {
		sum += p
		sumSq += p * p
		if i >= n {
			sum -= prices[i-n]
			sumSq -= prices[i-n] * prices[i-n]
		}
		if i >= n-1 {
			mean := sum / float64(n)
			variance := math.Max(sumSq/float64(n)-mean*mean, 0)
			std := math.Sqrt(variance)
			upper[i] = mean + k*std
			lower[i] = mean - k*std
		} else {
			upper[i] = math.NaN()
			lower[i] = math.NaN()
		}
	}
	return mid, upper, lower
}
