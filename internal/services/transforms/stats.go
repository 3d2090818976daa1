package transforms

import (
    "math"
    "sort"
)

func isMissing(v float64) bool {
    return math.IsNaN(v)
}

func missingColumn(n int) []float64 {
    out := make([]float64, n)
    for i := range out {
        out[i] = math.NaN()
    }
    return out
}

// window collects the present values of x[from..to] (inclusive) and the
// count of missing ones.
func window(x []float64, from, to int, buf []float64) ([]float64, int) {
    buf = buf[:0]
    missing := 0
    for i := from; i <= to; i++ {
        if isMissing(x[i]) {
            missing++
            continue
        }
        buf = append(buf, x[i])
    }
    return buf, missing
}

func mean(xs []float64) float64 {
    sum := 0.0
    for _, v := range xs {
        sum += v
    }
    return sum / float64(len(xs))
}

// sampleStd is the n-1 standard deviation, two-pass for stability.
func sampleStd(xs []float64, m float64) float64 {
    if len(xs) < 2 {
        return math.NaN()
    }
    ss := 0.0
    for _, v := range xs {
        d := v - m
        ss += d * d
    }
    return math.Sqrt(ss / float64(len(xs)-1))
}

// constant reports whether every value in xs is identical.
func constant(xs []float64) bool {
    for _, v := range xs[1:] {
        if v != xs[0] {
            return false
        }
    }
    return true
}

// zscore of v against xs; a constant sample scores exactly 0.
func zscore(v float64, xs []float64) float64 {
    if len(xs) < 2 {
        return math.NaN()
    }
    if constant(xs) {
        return 0
    }
    m := mean(xs)
    sd := sampleStd(xs, m)
    if sd == 0 || isMissing(sd) {
        return 0
    }
    return (v - m) / sd
}

// percentileRank places v within xs on [0, 100], ties counted at their midpoint.
func percentileRank(v float64, xs []float64) float64 {
    n := len(xs)
    if n == 0 {
        return math.NaN()
    }
    if n == 1 {
        return 50
    }
    below, equal := 0, 0
    for _, x := range xs {
        switch {
        case x < v:
            below++
        case x == v:
            equal++
        }
    }
    if equal == 0 {
        // v is not a member of xs; rank it as if it were
        equal = 1
        n++
    }
    return 100 * (float64(below) + 0.5*float64(equal-1)) / float64(n-1)
}

// quantile uses linear interpolation between closest ranks over sorted xs.
func quantile(sorted []float64, q float64) float64 {
    if len(sorted) == 0 {
        return math.NaN()
    }
    pos := q * float64(len(sorted)-1)
    lo := int(math.Floor(pos))
    hi := int(math.Ceil(pos))
    if lo == hi {
        return sorted[lo]
    }
    frac := pos - float64(lo)
    return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func presentSorted(x []float64) []float64 {
    out := make([]float64, 0, len(x))
    for _, v := range x {
        if !isMissing(v) {
            out = append(out, v)
        }
    }
    sort.Float64s(out)
    return out
}

func pearson(a, b []float64) float64 {
    if len(a) < 2 {
        return math.NaN()
    }
    ma, mb := mean(a), mean(b)
    var sab, saa, sbb float64
    for i := range a {
        da, db := a[i]-ma, b[i]-mb
        sab += da * db
        saa += da * da
        sbb += db * db
    }
    if saa == 0 || sbb == 0 {
        return math.NaN()
    }
    return sab / math.Sqrt(saa*sbb)
}

func finite(v float64) float64 {
    if math.IsInf(v, 0) {
        return math.NaN()
    }
    return v
}
