// Package features turns normalized text into fixed-length TF-IDF vectors.
package features

import (
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/hyperjump/bazaar/internal/normalize"
	"github.com/hyperjump/bazaar/pkg/utils"
)

// tagPrefix marks financial-term tag features. Normalized tokens never contain '#'.
const tagPrefix = "#fin:"

// Options controls vocabulary construction.
type Options struct {
	MaxFeatures int
	NGramMax    int
	MinDF       int
}

// Extractor holds the vocabulary and IDF weights captured at Fit time. It is
// immutable after Fit and is serialized into a model version, so every version
// transforms text with its own vocabulary.
type Extractor struct {
	Vocabulary map[string]int `json:"vocabulary"`
	// IDF has one weight per vocabulary entry plus a trailing out-of-vocabulary weight.
	IDF       []float64 `json:"idf"`
	NGramMax  int       `json:"ngram_max"`
	Documents int       `json:"documents"`
}

// ErrEmptyCorpus is returned by Fit when there is nothing to learn from.
var ErrEmptyCorpus = errors.New("features: empty corpus")

// Fit builds a vocabulary from corpus. Terms are ranked by document frequency
// (ties broken lexicographically), the top MaxFeatures are kept, and indices are
// assigned in lexicographic order.
func Fit(corpus []normalize.Text, opts Options) (*Extractor, error) {
	if len(corpus) == 0 {
		return nil, ErrEmptyCorpus
	}
	if opts.NGramMax < 1 {
		opts.NGramMax = 1
	}
	if opts.MinDF < 1 {
		opts.MinDF = 1
	}

	df := make(map[string]int)
	for _, doc := range corpus {
		seen := make(map[string]struct{})
		for _, term := range Terms(doc, opts.NGramMax) {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			df[term]++
		}
	}

	candidates := make([]string, 0, len(df))
	for term, n := range df {
		if n >= opts.MinDF {
			candidates = append(candidates, term)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if df[a] != df[b] {
			return df[a] > df[b]
		}
		return a < b
	})
	if opts.MaxFeatures > 0 && len(candidates) > opts.MaxFeatures {
		candidates = candidates[:opts.MaxFeatures]
	}
	sort.Strings(candidates)

	n := float64(len(corpus))
	e := &Extractor{
		Vocabulary: make(map[string]int, len(candidates)),
		IDF:        make([]float64, len(candidates)+1),
		NGramMax:   opts.NGramMax,
		Documents:  len(corpus),
	}
	for i, term := range candidates {
		e.Vocabulary[term] = i
		e.IDF[i] = smoothIDF(n, float64(df[term]))
	}
	e.IDF[len(candidates)] = smoothIDF(n, 0)
	return e, nil
}

func smoothIDF(n, df float64) float64 {
	return math.Log((1+n)/(1+df)) + 1
}

// Dim is the length of every vector Transform returns.
func (e *Extractor) Dim() int {
	return len(e.IDF)
}

// OOVIndex is the position of the out-of-vocabulary bucket.
func (e *Extractor) OOVIndex() int {
	return len(e.IDF) - 1
}

// Transform returns the L2-normalized TF-IDF vector of t. Terms missing from the
// vocabulary accumulate in the out-of-vocabulary bucket.
func (e *Extractor) Transform(t normalize.Text) []float64 {
	vec := make([]float64, e.Dim())
	oov := e.OOVIndex()
	for _, term := range Terms(t, e.NGramMax) {
		if idx, ok := e.Vocabulary[term]; ok {
			vec[idx] += e.IDF[idx]
		} else {
			vec[oov] += e.IDF[oov]
		}
	}
	utils.NormalizeL2(vec)
	return vec
}

// TransformAll transforms every text of a corpus.
func (e *Extractor) TransformAll(corpus []normalize.Text) [][]float64 {
	out := make([][]float64, len(corpus))
	for i, t := range corpus {
		out[i] = e.Transform(t)
	}
	return out
}

// Terms lists the features of t: word n-grams up to ngramMax, followed by one
// tag feature per financial-term occurrence.
func Terms(t normalize.Text, ngramMax int) []string {
	var out []string
	for n := 1; n <= ngramMax; n++ {
		for i := 0; i+n <= len(t.Tokens); i++ {
			out = append(out, strings.Join(t.Tokens[i:i+n], " "))
		}
	}
	for _, tag := range t.Tags() {
		for c := 0; c < t.Terms[tag]; c++ {
			out = append(out, tagPrefix+tag)
		}
	}
	return out
}
