package moderation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
	"chatrelay/pkg/interfaces"
)

// KeywordModerator flags messages containing any banned word. Matching runs
// on a normalized form of the text: lower case, common leet substitutions
// undone, punctuation dropped and whitespace runs collapsed to one space.
// "S.p.4.m" matches "spam"; "was pamphlet" does not, since a match never
// spans a word boundary the banned word itself does not contain.
type KeywordModerator struct {
	matcher *goahocorasick.Machine
	words   map[string]string // normalized pattern -> configured word
}

var _ interfaces.Moderator = (*KeywordModerator)(nil)

// NewKeywordModerator builds the automaton for words
func NewKeywordModerator(words []string) (*KeywordModerator, error) {
	words = lo.Uniq(lo.Compact(lo.Map(words, func(w string, _ int) string {
		return strings.TrimSpace(w)
	})))

	byPattern := make(map[string]string, len(words))
	patterns := make([][]rune, 0, len(words))
	for _, word := range words {
		pattern := normalizeRunes([]rune(word))
		if len(pattern) == 0 {
			continue
		}
		if _, dup := byPattern[string(pattern)]; dup {
			continue
		}
		byPattern[string(pattern)] = word
		patterns = append(patterns, pattern)
	}
	if len(patterns) == 0 {
		return nil, ErrNoWords
	}

	sort.Slice(patterns, func(i, j int) bool {
		return string(patterns[i]) < string(patterns[j])
	})

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, fmt.Errorf("failed to build keyword matcher: %w", err)
	}
	return &KeywordModerator{matcher: m, words: byPattern}, nil
}

// Moderate flags content on the first banned word found
func (m *KeywordModerator) Moderate(ctx context.Context, from, content string) (interfaces.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.Verdict{}, err
	}

	normalized := normalizeRunes([]rune(content))
	if len(normalized) == 0 {
		return interfaces.Verdict{}, nil
	}

	terms := m.matcher.MultiPatternSearch(normalized, true)
	if len(terms) == 0 {
		return interfaces.Verdict{}, nil
	}

	word := m.words[string(terms[0].Word)]
	return interfaces.Verdict{
		Flagged: true,
		Reason:  fmt.Sprintf("Flagged for '%s'", word),
	}, nil
}

// normalizeRunes lowers and simplifies each rune, drops punctuation and
// symbols, and turns every whitespace run into a single separator.
func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	gap := false
	for _, r := range input {
		clean := simplifyRune(unicode.ToLower(r))
		switch {
		case unicode.IsSpace(clean):
			gap = len(out) > 0
		case isNoise(clean):
			// dropped without closing the word
		default:
			if gap {
				out = append(out, wordSeparator)
				gap = false
			}
			out = append(out, clean)
		}
	}
	return out
}

const wordSeparator = ' '

// simplifyRune maps common leet speak characters back to letters.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	case '7':
		return 't'
	default:
		return r
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
