package transforms

import (
	"fmt"
	"math"
	"time"

	"LighthouseMacro/pkg/util"
)

// op is a transform with its parameters already bound.
type op func(x []float64, env *Env) ([]float64, error)

// rolling evaluates f over each trailing window of w rows. Rows before the
// window fills, rows whose own value is missing, and windows with fewer than
// minValid present values are missing.
func rolling(x []float64, w, minValid int, f func(v float64, xs []float64) float64) []float64 {
	out := missingColumn(len(x))
	buf := make([]float64, 0, w)
	for i := w - 1; i < len(x); i++ {
		if isMissing(x[i]) {
			continue
		}
		var xs []float64
		xs, _ = window(x, i-w+1, i, buf)
		if len(xs) < minValid {
			continue
		}
		out[i] = finite(f(x[i], xs))
	}
	return out
}

// expanding is rolling over the whole history up to each row.
func expanding(x []float64, minValid int, f func(v float64, xs []float64) float64) []float64 {
	out := missingColumn(len(x))
	hist := make([]float64, 0, len(x))
	for i, v := range x {
		if isMissing(v) {
			continue
		}
		hist = append(hist, v)
		if len(hist) < minValid {
			continue
		}
		out[i] = finite(f(v, hist))
	}
	return out
}

// windowParams reads window and min_valid; min_valid defaults to the window
// (strict mode) and may not exceed it.
func windowParams(p Params, required bool) (w, minValid int, err error) {
	if required && !p.Has("window") {
		return 0, 0, fmt.Errorf("param window is required")
	}
	if w, err = p.Int("window", 0); err != nil {
		return 0, 0, err
	}
	if required && w < 1 {
		return 0, 0, fmt.Errorf("window must be >= 1, got %d", w)
	}
	if minValid, err = p.Int("min_valid", w); err != nil {
		return 0, 0, err
	}
	if minValid < 1 || (w > 0 && minValid > w) {
		return 0, 0, fmt.Errorf("min_valid must be in [1, window], got %d", minValid)
	}
	return w, minValid, nil
}

func periodsParam(p Params) (int, error) {
	n, err := p.Int("n", 1)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("n must be >= 1, got %d", n)
	}
	return n, nil
}

// lagged applies f(current, prior) to rows with a present value n rows back.
func lagged(x []float64, n int, f func(cur, prior float64) float64) []float64 {
	out := missingColumn(len(x))
	for i := n; i < len(x); i++ {
		if isMissing(x[i]) || isMissing(x[i-n]) {
			continue
		}
		out[i] = finite(f(x[i], x[i-n]))
	}
	return out
}

func parseDiff(p Params) (op, error) {
	if err := p.check("n"); err != nil {
		return nil, err
	}
	n, err := periodsParam(p)
	if err != nil {
		return nil, err
	}
	return func(x []float64, _ *Env) ([]float64, error) {
		return lagged(x, n, func(cur, prior float64) float64 { return cur - prior }), nil
	}, nil
}

func parsePctChange(p Params) (op, error) {
	if err := p.check("n"); err != nil {
		return nil, err
	}
	n, err := periodsParam(p)
	if err != nil {
		return nil, err
	}
	return func(x []float64, _ *Env) ([]float64, error) {
		return lagged(x, n, func(cur, prior float64) float64 {
			if prior == 0 {
				return math.NaN()
			}
			return (cur/prior - 1) * 100
		}), nil
	}, nil
}

func parseAnnualizedGrowth(p Params) (op, error) {
	if err := p.check("n", "periods_per_year"); err != nil {
		return nil, err
	}
	n, err := periodsParam(p)
	if err != nil {
		return nil, err
	}
	ppy, err := p.Float("periods_per_year", 365)
	if err != nil {
		return nil, err
	}
	if ppy <= 0 {
		return nil, fmt.Errorf("periods_per_year must be > 0")
	}
	exp := ppy / float64(n)
	return func(x []float64, _ *Env) ([]float64, error) {
		return lagged(x, n, func(cur, prior float64) float64 {
			if prior == 0 {
				return math.NaN()
			}
			r := cur / prior
			if r < 0 {
				return math.NaN()
			}
			return math.Pow(r, exp) - 1
		}), nil
	}, nil
}

func parseMovingAverage(p Params) (op, error) {
	if err := p.check("window", "min_valid"); err != nil {
		return nil, err
	}
	w, minValid, err := windowParams(p, true)
	if err != nil {
		return nil, err
	}
	return func(x []float64, _ *Env) ([]float64, error) {
		if w == 1 {
			return append([]float64(nil), x...), nil
		}
		return rolling(x, w, minValid, func(_ float64, xs []float64) float64 { return mean(xs) }), nil
	}, nil
}

func parseZScore(p Params) (op, error) {
	if err := p.check("window", "expanding", "min_valid"); err != nil {
		return nil, err
	}
	exp, err := p.Bool("expanding")
	if err != nil {
		return nil, err
	}
	if exp == p.Has("window") {
		return nil, fmt.Errorf("zscore needs exactly one of window or expanding")
	}
	if exp {
		minValid, err := p.Int("min_valid", 2)
		if err != nil {
			return nil, err
		}
		if minValid < 2 {
			return nil, fmt.Errorf("min_valid must be >= 2, got %d", minValid)
		}
		return func(x []float64, _ *Env) ([]float64, error) {
			return expanding(x, minValid, zscore), nil
		}, nil
	}
	w, minValid, err := windowParams(p, true)
	if err != nil {
		return nil, err
	}
	if w < 2 {
		return nil, fmt.Errorf("zscore window must be >= 2")
	}
	if minValid < 2 {
		minValid = 2
	}
	return func(x []float64, _ *Env) ([]float64, error) {
		return rolling(x, w, minValid, zscore), nil
	}, nil
}

func parsePercentileRank(p Params) (op, error) {
	if err := p.check("window", "min_valid"); err != nil {
		return nil, err
	}
	w, minValid, err := windowParams(p, false)
	if err != nil {
		return nil, err
	}
	if w > 0 {
		return func(x []float64, _ *Env) ([]float64, error) {
			return rolling(x, w, minValid, percentileRank), nil
		}, nil
	}
	// full sample
	return func(x []float64, _ *Env) ([]float64, error) {
		sample := presentSorted(x)
		out := missingColumn(len(x))
		for i, v := range x {
			if !isMissing(v) {
				out[i] = percentileRank(v, sample)
			}
		}
		return out, nil
	}, nil
}

func parseRollingStd(p Params) (op, error) {
	if err := p.check("window", "min_valid"); err != nil {
		return nil, err
	}
	w, minValid, err := windowParams(p, true)
	if err != nil {
		return nil, err
	}
	if w < 2 {
		return nil, fmt.Errorf("rolling_std window must be >= 2")
	}
	if minValid < 2 {
		minValid = 2
	}
	return func(x []float64, _ *Env) ([]float64, error) {
		return rolling(x, w, minValid, func(_ float64, xs []float64) float64 {
			if constant(xs) {
				return 0
			}
			return sampleStd(xs, mean(xs))
		}), nil
	}, nil
}

func parseRollingCorr(p Params) (op, error) {
	if err := p.check("window", "min_valid", "other"); err != nil {
		return nil, err
	}
	other, err := otherParam(p)
	if err != nil {
		return nil, err
	}
	w, minValid, err := windowParams(p, true)
	if err != nil {
		return nil, err
	}
	if w < 2 {
		return nil, fmt.Errorf("rolling_corr window must be >= 2")
	}
	if minValid < 2 {
		minValid = 2
	}
	return func(x []float64, env *Env) ([]float64, error) {
		y, err := env.resolve(other, len(x))
		if err != nil {
			return nil, err
		}
		out := missingColumn(len(x))
		a := make([]float64, 0, w)
		b := make([]float64, 0, w)
		for i := w - 1; i < len(x); i++ {
			if isMissing(x[i]) || isMissing(y[i]) {
				continue
			}
			a, b = a[:0], b[:0]
			for j := i - w + 1; j <= i; j++ {
				if isMissing(x[j]) || isMissing(y[j]) {
					continue
				}
				a = append(a, x[j])
				b = append(b, y[j])
			}
			if len(a) < minValid {
				continue
			}
			out[i] = pearson(a, b)
		}
		return out, nil
	}, nil
}

func parseIndexToBase(p Params) (op, error) {
	if err := p.check("base_date", "base_value"); err != nil {
		return nil, err
	}
	baseValue, err := p.Float("base_value", 100)
	if err != nil {
		return nil, err
	}
	raw, err := p.String("base_date")
	if err != nil {
		return nil, err
	}
	var baseDate time.Time
	if raw != "" {
		if baseDate, err = util.ParseDate(raw); err != nil {
			return nil, fmt.Errorf("base_date: %w", err)
		}
	}
	return func(x []float64, env *Env) ([]float64, error) {
		base := math.NaN()
		if baseDate.IsZero() {
			for _, v := range x {
				if !isMissing(v) {
					base = v
					break
				}
			}
		} else {
			if env == nil || len(env.Dates) != len(x) {
				return nil, fmt.Errorf("index_to_base with base_date needs the panel calendar")
			}
			for i, d := range env.Dates {
				if d.Equal(baseDate) {
					base = x[i]
					break
				}
			}
		}
		out := missingColumn(len(x))
		if isMissing(base) || base == 0 {
			return out, nil
		}
		for i, v := range x {
			if !isMissing(v) {
				out[i] = v / base * baseValue
			}
		}
		return out, nil
	}, nil
}

func otherParam(p Params) (string, error) {
	other, err := p.String("other")
	if err != nil {
		return "", err
	}
	if other == "" {
		return "", fmt.Errorf("param other is required")
	}
	return other, nil
}

// pairwise binds a binary transform a (op) other.
func pairwise(f func(a, b float64) float64) func(Params) (op, error) {
	return func(p Params) (op, error) {
		if err := p.check("other"); err != nil {
			return nil, err
		}
		other, err := otherParam(p)
		if err != nil {
			return nil, err
		}
		return func(x []float64, env *Env) ([]float64, error) {
			y, err := env.resolve(other, len(x))
			if err != nil {
				return nil, err
			}
			out := missingColumn(len(x))
			for i := range x {
				if isMissing(x[i]) || isMissing(y[i]) {
					continue
				}
				out[i] = finite(f(x[i], y[i]))
			}
			return out, nil
		}, nil
	}
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return math.NaN()
	}
	return a / b
}

func spread(a, b float64) float64 { return a - b }

func parseNegate(p Params) (op, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	return func(x []float64, _ *Env) ([]float64, error) {
		out := make([]float64, len(x))
		for i, v := range x {
			out[i] = -v
		}
		return out, nil
	}, nil
}

func parseWinsorize(p Params) (op, error) {
	if err := p.check("lower", "upper"); err != nil {
		return nil, err
	}
	lo, err := p.Float("lower", 0.01)
	if err != nil {
		return nil, err
	}
	hi, err := p.Float("upper", 0.99)
	if err != nil {
		return nil, err
	}
	if lo < 0 || hi > 1 || lo >= hi {
		return nil, fmt.Errorf("winsorize needs 0 <= lower < upper <= 1")
	}
	return func(x []float64, _ *Env) ([]float64, error) {
		sorted := presentSorted(x)
		out := missingColumn(len(x))
		if len(sorted) == 0 {
			return out, nil
		}
		qlo, qhi := quantile(sorted, lo), quantile(sorted, hi)
		for i, v := range x {
			if isMissing(v) {
				continue
			}
			out[i] = math.Min(math.Max(v, qlo), qhi)
		}
		return out, nil
	}, nil
}

func parseEWMA(p Params) (op, error) {
	if err := p.check("alpha"); err != nil {
		return nil, err
	}
	if !p.Has("alpha") {
		return nil, fmt.Errorf("param alpha is required")
	}
	alpha, err := p.Float("alpha", 0)
	if err != nil {
		return nil, err
	}
	if alpha <= 0 || alpha >= 1 {
		return nil, fmt.Errorf("alpha must be in (0, 1), got %v", alpha)
	}
	return func(x []float64, _ *Env) ([]float64, error) {
		out := missingColumn(len(x))
		s := math.NaN()
		for i, v := range x {
			if isMissing(v) {
				// smoothing restarts after a gap
				s = math.NaN()
				continue
			}
			if isMissing(s) {
				s = v
			} else {
				s = alpha*v + (1-alpha)*s
			}
			out[i] = s
		}
		return out, nil
	}, nil
}
