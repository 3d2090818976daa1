package transforms

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Params is a transform's parameter mapping as decoded from YAML or JSON.
type Params map[string]any

// Int returns an integral parameter or def when absent.
func (p Params) Int(name string, def int) (int, error) {
	raw, ok := p[name]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("param %s: %v is not an integer", name, v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", name, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("param %s: unsupported type %T", name, raw)
}

// Float returns a numeric parameter or def when absent.
func (p Params) Float(name string, def float64) (float64, error) {
	raw, ok := p[name]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", name, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("param %s: unsupported type %T", name, raw)
}

func (p Params) String(name string) (string, error) {
	raw, ok := p[name]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("param %s: want string, got %T", name, raw)
	}
	return s, nil
}

func (p Params) Bool(name string) (bool, error) {
	raw, ok := p[name]
	if !ok || raw == nil {
		return false, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("param %s: want bool, got %T", name, raw)
	}
	return b, nil
}

func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// check rejects parameter names outside allowed.
func (p Params) check(allowed ...string) error {
	var unknown []string
	for k := range p {
		found := false
		for _, a := range allowed {
			if k == a {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown params %v", unknown)
	}
	return nil
}
