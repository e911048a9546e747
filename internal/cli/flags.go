package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperjump/bazaar/internal/classifier"
)

// ParseParams parses "name=value,name=value" hyperparameter overrides.
func ParseParams(s string) (classifier.Params, error) {
	p := classifier.Params{}
	if strings.TrimSpace(s) == "" {
		return p, nil
	}
	for _, pair := range strings.Split(s, ",") {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("hyperparameter %q: expected name=value", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("hyperparameter %s: %w", name, err)
		}
		p[name] = v
	}
	return p, nil
}

// ParseGrid parses "name=v1,v2;name=v1" into a tuning grid.
func ParseGrid(s string) (classifier.Grid, error) {
	g := classifier.Grid{}
	if strings.TrimSpace(s) == "" {
		return g, nil
	}
	for _, axis := range strings.Split(s, ";") {
		if strings.TrimSpace(axis) == "" {
			continue
		}
		name, raw, ok := strings.Cut(axis, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("grid axis %q: expected name=v1,v2", axis)
		}
		if _, dup := g[name]; dup {
			return nil, fmt.Errorf("grid axis %s given twice", name)
		}
		for _, field := range strings.Split(raw, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("grid axis %s: %w", name, err)
			}
			g[name] = append(g[name], v)
		}
	}
	return g, nil
}
