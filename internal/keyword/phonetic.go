package keyword

import (
	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.92

	// Tokens shorter than this never fall back; short words collide too
	// easily ("hi" vs "hit").
	defaultMinTokenLen = 4
)

// PhoneticOption configures a [PhoneticMatcher].
type PhoneticOption func(*PhoneticMatcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for an alias that
// shares a Double Metaphone code with the token. Default: 0.80.
func WithPhoneticThreshold(v float64) PhoneticOption {
	return func(m *PhoneticMatcher) { m.phoneticThreshold = v }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for an alias with no
// shared phonetic code. Default: 0.92.
func WithFuzzyThreshold(v float64) PhoneticOption {
	return func(m *PhoneticMatcher) { m.fuzzyThreshold = v }
}

// PhoneticMatcher picks the alias that sounds most like a token.
//
// An alias is a phonetic candidate when its Double Metaphone codes overlap the
// token's; among candidates the highest Jaro-Winkler score above the phonetic
// threshold wins. Without any phonetic candidate, a pure Jaro-Winkler pass with
// the stricter fuzzy threshold is tried. Ties go to the alias that sorts
// first, so results are deterministic.
type PhoneticMatcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minTokenLen       int
}

// NewPhoneticMatcher returns a matcher with default thresholds.
func NewPhoneticMatcher(opts ...PhoneticOption) *PhoneticMatcher {
	m := &PhoneticMatcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minTokenLen:       defaultMinTokenLen,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the best alias for token from the sorted candidate list.
func (m *PhoneticMatcher) Match(token string, aliases []string) (string, bool) {
	if len(token) < m.minTokenLen || len(aliases) == 0 {
		return "", false
	}
	tp, ts := matchr.DoubleMetaphone(token)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, alias := range aliases {
		ap, as := matchr.DoubleMetaphone(alias)
		phonetic := codesOverlap(tp, ts, ap, as)
		score := matchr.JaroWinkler(token, alias, false)

		switch {
		case phonetic && score >= m.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				best, bestScore, bestPhonetic = alias, score, true
			}
		case !phonetic && !bestPhonetic && score >= m.fuzzyThreshold:
			if score > bestScore {
				best, bestScore = alias, score
			}
		}
	}
	return best, best != ""
}

func codesOverlap(tp, ts, ap, as string) bool {
	for _, a := range [...]string{tp, ts} {
		if a == "" {
			continue
		}
		if a == ap || a == as {
			return true
		}
	}
	return false
}
