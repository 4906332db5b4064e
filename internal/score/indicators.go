package score

import "math"

// Indicator series are aligned with their input, oldest first. Positions
// without enough history are NaN.

// Epsilon guards divisions by a vanishing average loss or band width.
const Epsilon = 1e-10

// SMA is the simple moving average over n values.
func SMA(values []float64, n int) []float64 {
	out := nanSeries(len(values))
	if n <= 0 {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= n {
			sum -= values[i-n]
		}
		if i >= n-1 {
			out[i] = sum / float64(n)
		}
	}
	return out
}

// EMA uses alpha 2/(n+1) seeded with the first value, so every position is defined.
func EMA(values []float64, n int) []float64 {
	return ewm(values, 2/float64(n+1))
}

func ewm(values []float64, alpha float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if i == 0 {
			out[i] = v
			continue
		}
		out[i] = alpha*v + (1-alpha)*out[i-1]
	}
	return out
}

// MACD returns DIF (fast EMA minus slow EMA), DEA (signal EMA of DIF) and
// HIST = 2*(DIF-DEA).
func MACD(values []float64, fast, slow, signal int) (dif, dea, hist []float64) {
	fastEMA, slowEMA := EMA(values, fast), EMA(values, slow)
	dif = make([]float64, len(values))
	for i := range values {
		dif[i] = fastEMA[i] - slowEMA[i]
	}
	dea = EMA(dif, signal)
	hist = make([]float64, len(values))
	for i := range values {
		hist[i] = 2 * (dif[i] - dea[i])
	}
	return dif, dea, hist
}

// RSI is Wilder's relative strength index. The first value is at index n.
// A flat window reads 50; otherwise the result is clamped to [0,100].
func RSI(values []float64, n int) []float64 {
	out := nanSeries(len(values))
	if n <= 0 || len(values) <= n {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= n; i++ {
		g, l := gainLoss(values[i] - values[i-1])
		avgGain += g
		avgLoss += l
	}
	avgGain /= float64(n)
	avgLoss /= float64(n)
	out[n] = rsiValue(avgGain, avgLoss)

	for i := n + 1; i < len(values); i++ {
		g, l := gainLoss(values[i] - values[i-1])
		avgGain = (avgGain*float64(n-1) + g) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + l) / float64(n)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func gainLoss(change float64) (float64, float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgGain == 0 && avgLoss == 0 {
		return 50
	}
	rs := avgGain / math.Max(avgLoss, Epsilon)
	return clamp(100-100/(1+rs), 0, 100)
}

// Bollinger returns the n-period middle band and the bands k population
// standard deviations above and below it.
func Bollinger(values []float64, n int, k float64) (mid, upper, lower []float64) {
	mid = SMA(values, n)
	upper, lower = nanSeries(len(values)), nanSeries(len(values))
	for i := n - 1; i < len(values) && n > 0; i++ {
		var ss float64
		for _, v := range values[i-n+1 : i+1] {
			ss += (v - mid[i]) * (v - mid[i])
		}
		sd := math.Sqrt(ss / float64(n))
		upper[i] = mid[i] + k*sd
		lower[i] = mid[i] - k*sd
	}
	return mid, upper, lower
}

// KDJ computes RSV over the rolling n-bar high/low range, smooths it into K
// and D with alpha 1/m1 and 1/m2, and derives J = 3K - 2D. Early bars use
// the range available so far.
func KDJ(high, low, close []float64, n, m1, m2 int) (k, d, j []float64) {
	size := len(close)
	rsv := make([]float64, size)
	for i := 0; i < size; i++ {
		from := i - n + 1
		if from < 0 {
			from = 0
		}
		hh, ll := high[from], low[from]
		for t := from + 1; t <= i; t++ {
			hh = math.Max(hh, high[t])
			ll = math.Min(ll, low[t])
		}
		if hh-ll < Epsilon {
			rsv[i] = 50
			continue
		}
		rsv[i] = clamp((close[i]-ll)/(hh-ll)*100, 0, 100)
	}

	k = ewm(rsv, 1/float64(m1))
	d = ewm(k, 1/float64(m2))
	j = make([]float64, size)
	for i := range j {
		j[i] = 3*k[i] - 2*d[i]
	}
	return k, d, j
}

// MaxDrawdown is the largest peak-to-trough decline as a fraction of the peak.
func MaxDrawdown(values []float64) float64 {
	peak, mdd := math.Inf(-1), 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			mdd = math.Max(mdd, (peak-v)/peak)
		}
	}
	return mdd
}

// TradingDaysPerYear annualises daily statistics.
const TradingDaysPerYear = 252

// Volatility is the annualised sample standard deviation of daily returns.
func Volatility(values []float64) float64 {
	returns := make([]float64, 0, len(values))
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			returns = append(returns, values[i]/values[i-1]-1)
		}
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var ss float64
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	return math.Sqrt(ss/float64(len(returns)-1)) * math.Sqrt(TradingDaysPerYear)
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
