package classifier

import (
	"fmt"
	"strconv"
	"strings"
)

// Class codes follow the dataset convention.
const (
	Negative = 0
	Positive = 1
	Neutral  = 2
)

var classNames = []string{"negative", "positive", "neutral"}

// Scheme is the set of classes a model predicts over.
type Scheme struct {
	Name string
	// Priority lists class codes in tie-break order: earlier wins.
	Priority []int
}

var (
	// Binary predicts negative or positive.
	Binary = Scheme{Name: "binary", Priority: []int{Negative, Positive}}
	// Ternary adds neutral.
	Ternary = Scheme{Name: "ternary", Priority: []int{Negative, Neutral, Positive}}
)

// ParseScheme returns the scheme called name.
func ParseScheme(name string) (Scheme, error) {
	switch name {
	case Binary.Name:
		return Binary, nil
	case Ternary.Name:
		return Ternary, nil
	}
	return Scheme{}, fmt.Errorf("unknown class scheme %q", name)
}

// NumClasses is the number of class codes, which are 0..NumClasses-1.
func (s Scheme) NumClasses() int {
	return len(s.Priority)
}

// ClassName returns the name of a class code.
func (s Scheme) ClassName(code int) string {
	if code < 0 || code >= s.NumClasses() {
		return ""
	}
	return classNames[code]
}

// Classes returns class names ordered by code.
func (s Scheme) Classes() []string {
	return append([]string(nil), classNames[:s.NumClasses()]...)
}

// ParseLabel accepts a class code ("0", "1", "2") or a class name.
func (s Scheme) ParseLabel(v string) (int, error) {
	v = strings.TrimSpace(strings.ToLower(v))
	if code, err := strconv.Atoi(v); err == nil {
		if code >= 0 && code < s.NumClasses() {
			return code, nil
		}
		return 0, fmt.Errorf("label %d is not a %s class code", code, s.Name)
	}
	for code := 0; code < s.NumClasses(); code++ {
		if classNames[code] == v {
			return code, nil
		}
	}
	return 0, fmt.Errorf("unknown %s label %q", s.Name, v)
}

// Argmax returns the most probable class; ties go to the class earliest in Priority.
func (s Scheme) Argmax(dist []float64) int {
	best := s.Priority[0]
	for _, code := range s.Priority[1:] {
		if dist[code] > dist[best] {
			best = code
		}
	}
	return best
}

// Distribution maps class names to probabilities.
func (s Scheme) Distribution(dist []float64) map[string]float64 {
	out := make(map[string]float64, len(dist))
	for code, p := range dist {
		out[s.ClassName(code)] = p
	}
	return out
}
