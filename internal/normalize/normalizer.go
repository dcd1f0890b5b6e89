// Package normalize cleans up transcribed speech before it is sent as a
// query: known mis-hearings are corrected, near-misses of domain vocabulary
// are snapped, filler words are removed and whitespace is tidied.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

// SuggestedFuzzyThreshold is a reasonable similarity for vocabulary snapping
// when it is turned on. Snapping is off by default.
const SuggestedFuzzyThreshold = 0.8

const defaultMinFuzzyLength = 4

var (
	whitespaceRe     = regexp.MustCompile(`\s+`)
	spaceBeforePunct = regexp.MustCompile(`\s+([,.?!;:])`)
	repeatedCommaRe  = regexp.MustCompile(`,(\s*,)+`)
	commaBeforeStop  = regexp.MustCompile(`[,;:]+([.?!])`)
	leadingPunctRe   = regexp.MustCompile(`^[\s,;:]+`)
	trailingCommaRe  = regexp.MustCompile(`[\s,;:]+$`)
	wordRe           = regexp.MustCompile(`\p{L}[\p{L}\p{M}]*`)
)

// Normalizer applies a compiled Table. It is immutable and safe for
// concurrent use.
type Normalizer struct {
	corrections []rule
	fillers     []rule
	vocabulary  []string
	vocabSet    map[string]bool
	threshold   float64
	minLength   int
}

// rule replaces whole-word, case-insensitive matches of a pattern
type rule struct {
	re *regexp.Regexp
	to string
}

// Option configures a Normalizer
type Option func(*Normalizer)

// WithFuzzyThreshold turns on vocabulary snapping for words at least this
// similar to a vocabulary word. A threshold of zero or less disables it.
func WithFuzzyThreshold(threshold float64) Option {
	return func(n *Normalizer) { n.threshold = threshold }
}

// WithMinFuzzyLength sets the shortest word considered for snapping
func WithMinFuzzyLength(runes int) Option {
	return func(n *Normalizer) { n.minLength = runes }
}

// New compiles a table into a Normalizer
func New(table *Table, opts ...Option) (*Normalizer, error) {
	if table == nil {
		return nil, fmt.Errorf("correction table cannot be nil")
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}

	n := &Normalizer{
		vocabSet:  make(map[string]bool, len(table.Vocabulary)),
		minLength: defaultMinFuzzyLength,
	}
	for _, opt := range opts {
		opt(n)
	}

	for _, c := range table.Corrections {
		r, err := compileRule(c.From, c.To)
		if err != nil {
			return nil, err
		}
		n.corrections = append(n.corrections, r)
	}
	for _, f := range table.Fillers {
		r, err := compileRule(f, "")
		if err != nil {
			return nil, err
		}
		n.fillers = append(n.fillers, r)
	}
	for _, v := range table.Vocabulary {
		v = strings.ToLower(strings.TrimSpace(v))
		if n.vocabSet[v] {
			continue
		}
		n.vocabSet[v] = true
		n.vocabulary = append(n.vocabulary, v)
	}
	return n, nil
}

// MustNew is New for tables known to be valid, such as the built-in ones
func MustNew(table *Table, opts ...Option) *Normalizer {
	n, err := New(table, opts...)
	if err != nil {
		panic(err.Error())
	}
	return n
}

// Normalize corrects, snaps, removes fillers and tidies whitespace, in that
// order. The result may be empty.
func (n *Normalizer) Normalize(text string) string {
	for _, r := range n.corrections {
		text = r.apply(text)
	}
	text = n.snap(text)
	for _, r := range n.fillers {
		text = r.apply(text)
	}
	return tidy(text)
}

// snap replaces words that are close to, but not exactly, a vocabulary word
func (n *Normalizer) snap(text string) string {
	if n.threshold <= 0 || len(n.vocabulary) == 0 {
		return text
	}
	return wordRe.ReplaceAllStringFunc(text, func(word string) string {
		if utf8.RuneCountInString(word) < n.minLength {
			return word
		}
		lower := strings.ToLower(word)
		if n.vocabSet[lower] {
			return word
		}

		best, bestScore := "", 0.0
		for _, v := range n.vocabulary {
			if score := levenshtein.Similarity(lower, v, nil); score > bestScore {
				best, bestScore = v, score
			}
		}
		if bestScore >= n.threshold {
			return best
		}
		return word
	})
}

func compileRule(from, to string) (rule, error) {
	parts := strings.Fields(from)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile(`(?i)` + strings.Join(parts, `\s+`))
	if err != nil {
		return rule{}, fmt.Errorf("failed to compile %q: %w", from, err)
	}
	return rule{re: re, to: to}, nil
}

// apply replaces every match that starts and ends on a word boundary.
// Boundaries are checked on runes so non-ASCII scripts work too.
func (r rule) apply(s string) string {
	var b strings.Builder
	copied, search := 0, 0
	for search < len(s) {
		loc := r.re.FindStringIndex(s[search:])
		if loc == nil {
			break
		}
		start, end := search+loc[0], search+loc[1]
		if start == end {
			break
		}
		if atBoundaryBefore(s, start) && atBoundaryAfter(s, end) {
			b.WriteString(s[copied:start])
			if r.to != "" {
				b.WriteString(r.to)
			} else {
				// keep words on either side apart
				b.WriteByte(' ')
			}
			copied, search = end, end
			continue
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		search = start + size
	}
	if copied == 0 {
		return s
	}
	b.WriteString(s[copied:])
	return b.String()
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || r == '_'
}

func atBoundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	first, _ := utf8.DecodeRuneInString(s[i:])
	prev, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(first) || !isWordRune(prev)
}

func atBoundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(s[:i])
	next, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(last) || !isWordRune(next)
}

// tidy collapses whitespace, removes space before punctuation and strips
// dangling separators left behind by deletions.
func tidy(s string) string {
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = spaceBeforePunct.ReplaceAllString(s, "$1")
	s = repeatedCommaRe.ReplaceAllString(s, ",")
	s = commaBeforeStop.ReplaceAllString(s, "$1")
	s = leadingPunctRe.ReplaceAllString(s, "")
	s = trailingCommaRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
