package strategy

import (
	"fmt"
	"strconv"
)

// paramInt reads an integer strategy parameter with a default.
func paramInt(params map[string]string, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("param %q: %w", key, err)
	}
	return v, nil
}

// paramFloat reads a float strategy parameter with a default.
func paramFloat(params map[string]string, key string, def float64) (float64, error) {
	raw, ok := params[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("param %q: %w", key, err)
	}
	return v, nil
}
