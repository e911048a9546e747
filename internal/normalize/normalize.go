// Package normalize canonicalizes raw Persian financial text before feature extraction.
//
// The chain follows the Persian analyzer shipped with bleve, but folds before it
// splits: text is lowercased, letterform variants (yeh, kaf, heh, alef) are mapped
// the way bleve's Arabic and Persian normalize filters map them, diacritics,
// tatweel and zero-width characters are removed or turned into spaces, and only
// then is the text split with bleve's unicode word tokenizer. Stopwords are
// removed and financial terms are tagged without being deleted.
//
// Canonicalize is pure and idempotent: Canonicalize(Canonicalize(x).Text) equals
// Canonicalize(x) for every x.
package normalize

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/ar"
	"github.com/blevesearch/bleve/v2/analysis/lang/fa"
	unicodetok "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/hyperjump/bazaar/internal/models"
)

var urlPattern = regexp.MustCompile(`(?i)(?:https?://|www\.)\S*`)

// maxPasses bounds re-analysis of a token sequence that is not yet stable.
const maxPasses = 8

// Text is normalized text: canonical tokens joined by single spaces, plus the
// financial-term tags found in it.
type Text struct {
	Text   string
	Tokens []string
	// Terms counts tokens per financial-term tag.
	Terms map[string]int
}

// Tags returns the financial-term tags present in t, sorted.
func (t Text) Tags() []string {
	tags := make([]string, 0, len(t.Terms))
	for tag := range t.Terms {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Options configures a Normalizer. Model versions persist the Options their
// normalizer was built from.
type Options struct {
	Stopwords []string `json:"stopwords,omitempty"`
	// StopwordsFile is an optional bleve token map file (one word per line, # comments).
	StopwordsFile  string            `json:"stopwords_file,omitempty"`
	FinancialTerms map[string]string `json:"financial_terms,omitempty"`
}

// Normalizer applies the canonicalization chain. It holds no mutable state and
// is safe for concurrent use.
type Normalizer struct {
	tokenizer analysis.Tokenizer
	stopwords analysis.TokenMap
	terms     map[string]string
	termKeys  []string
	opts      Options
}

// New builds a Normalizer. Stopwords and dictionary terms are canonicalized with
// the same chain as input text so that lookups compare like with like.
func New(opts Options) (*Normalizer, error) {
	n := &Normalizer{
		tokenizer: unicodetok.NewUnicodeTokenizer(),
		stopwords: analysis.NewTokenMap(),
		terms:     make(map[string]string),
	}

	raw := analysis.NewTokenMap()
	for _, w := range opts.Stopwords {
		raw.AddToken(w)
	}
	if opts.StopwordsFile != "" {
		if err := raw.LoadFile(opts.StopwordsFile); err != nil {
			return nil, fmt.Errorf("failed to load stopwords: %w", err)
		}
	}
	words := make([]string, 0, len(raw))
	for w := range raw {
		words = append(words, w)
		if term, ok := n.single(w); ok {
			n.stopwords.AddToken(term)
		}
	}
	sort.Strings(words)
	n.opts = Options{Stopwords: words, FinancialTerms: make(map[string]string, len(opts.FinancialTerms))}

	for term, tag := range opts.FinancialTerms {
		canon, ok := n.single(term)
		if !ok || tag == "" {
			return nil, fmt.Errorf("financial term %q must be a single word with a tag", term)
		}
		n.terms[canon] = tag
		n.termKeys = append(n.termKeys, canon)
		n.opts.FinancialTerms[term] = tag
	}
	// Longest key wins; ties resolve lexicographically.
	sort.Slice(n.termKeys, func(i, j int) bool {
		a, b := n.termKeys[i], n.termKeys[j]
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
	return n, nil
}

// Options returns the configuration n was built from, with file stopwords
// inlined. New(n.Options()) builds an equivalent Normalizer.
func (n *Normalizer) Options() Options {
	out := Options{
		Stopwords:      append([]string(nil), n.opts.Stopwords...),
		FinancialTerms: make(map[string]string, len(n.opts.FinancialTerms)),
	}
	for k, v := range n.opts.FinancialTerms {
		out.FinancialTerms[k] = v
	}
	return out
}

// Normalize validates raw input and canonicalizes it. Input that is empty after
// trimming or longer than models.MaxTextLength characters is rejected with a
// *models.ValidationError before any normalization runs.
func (n *Normalizer) Normalize(raw string) (Text, error) {
	if err := models.ValidateText("text", raw); err != nil {
		return Text{}, err
	}
	return n.Canonicalize(raw), nil
}

// Canonicalize runs the chain without validation. The kept tokens are
// re-analyzed until joining and splitting them again yields the same sequence.
func (n *Normalizer) Canonicalize(s string) Text {
	kept := n.withoutStopwords(n.analyze(s))
	for pass := 0; pass < maxPasses; pass++ {
		next := n.withoutStopwords(n.analyze(strings.Join(kept, " ")))
		if slices.Equal(next, kept) {
			break
		}
		kept = next
	}
	out := Text{
		Text:   strings.Join(kept, " "),
		Tokens: kept,
		Terms:  make(map[string]int),
	}
	for _, tok := range kept {
		if tag, ok := n.tag(tok); ok {
			out.Terms[tag]++
		}
	}
	return out
}

func (n *Normalizer) withoutStopwords(tokens []string) []string {
	kept := tokens[:0]
	for _, tok := range tokens {
		if _, stop := n.stopwords[tok]; stop {
			continue
		}
		kept = append(kept, tok)
	}
	return kept
}

func (n *Normalizer) analyze(s string) []string {
	// A Caser carries state between calls, so each call gets its own.
	s = cases.Lower(language.Und).String(s)
	s = strings.Map(mapRune, s)
	s = urlPattern.ReplaceAllString(s, " ")
	stream := n.tokenizer.Tokenize([]byte(s))
	out := make([]string, 0, len(stream))
	for _, tok := range stream {
		if len(tok.Term) == 0 || urlPattern.Match(tok.Term) {
			continue
		}
		out = append(out, string(tok.Term))
	}
	return out
}

// single canonicalizes a dictionary word, reporting false unless it is exactly one token.
func (n *Normalizer) single(word string) (string, bool) {
	toks := n.analyze(word)
	if len(toks) != 1 {
		return "", false
	}
	return toks[0], true
}

func (n *Normalizer) tag(tok string) (string, bool) {
	for _, key := range n.termKeys {
		if strings.HasPrefix(tok, key) {
			return n.terms[key], true
		}
	}
	return "", false
}

const (
	zwnj            = '\u200c'
	zwj             = '\u200d'
	superscriptAlef = '\u0670'
)

func mapRune(r rune) rune {
	switch r {
	case ar.AlefMadda, ar.AlefHamzaAbove, ar.AlefHamzaBelow:
		return ar.Alef
	case ar.DotlessYeh, fa.FarsiYeh, fa.YehBarree:
		return ar.Yeh
	case ar.TehMarbuta, fa.HehYeh, fa.HehGoal:
		return ar.Heh
	case fa.Keheh:
		return fa.Kaf
	case ar.Tatweel, ar.Fathatan, ar.Dammatan, ar.Kasratan, ar.Fatha, ar.Damma,
		ar.Kasra, ar.Shadda, ar.Sukun, fa.HamzaAbove, superscriptAlef:
		return -1
	}
	switch {
	case r == zwnj || r == zwj:
		return ' '
	case r >= '۰' && r <= '۹':
		return '0' + (r - '۰')
	case r >= '٠' && r <= '٩':
		return '0' + (r - '٠')
	case unicode.IsControl(r):
		return ' '
	case unicode.Is(unicode.Cf, r):
		return -1
	}
	return r
}
