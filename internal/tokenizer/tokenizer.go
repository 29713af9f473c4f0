// Package tokenizer turns body text and queries into normalized search terms.
//
// Tokenization is a pure function of (text, locale): deterministic,
// idempotent, and identical for the indexing path and the public tokenize
// endpoint, so callers can predict exactly what indexing will produce.
package tokenizer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/language"

	"github.com/stgy-dev/shardix/internal/domain"
)

// DefaultCacheSize bounds the tokenization result cache.
const DefaultCacheSize = 4096

// Bases segmented by character bigrams instead of word boundaries.
var bigramBases = map[string]bool{
	"ja": true,
	"zh": true,
	"ko": true,
	"th": true,
}

// Tokenizer resolves locales and tokenizes text, caching results.
// Safe for concurrent use.
type Tokenizer struct {
	cache *lru.Cache[uint64, []string]
}

// New creates a tokenizer with a result cache of the given size.
// Non-positive sizes fall back to DefaultCacheSize.
func New(cacheSize int) *Tokenizer {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	// lru.New only errors on non-positive size.
	cache, _ := lru.New[uint64, []string](cacheSize)
	return &Tokenizer{cache: cache}
}

// ResolveLocale parses a BCP-47 tag and returns its base language ("en", "ja").
func (t *Tokenizer) ResolveLocale(locale string) (string, error) {
	if locale == "" {
		return "", fmt.Errorf("locale is required: %w", domain.ErrInvalidLocale)
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return "", fmt.Errorf("locale %q: %v: %w", locale, err, domain.ErrInvalidLocale)
	}
	base, _ := tag.Base()
	return base.String(), nil
}

// Tokenize returns the ordered lowercase tokens of text under the given locale.
func (t *Tokenizer) Tokenize(text, locale string) ([]string, error) {
	base, err := t.ResolveLocale(locale)
	if err != nil {
		return nil, err
	}

	key := cacheKey(base, text)
	if tokens, ok := t.cache.Get(key); ok {
		return cloneTokens(tokens), nil
	}

	var tokens []string
	if bigramBases[base] {
		tokens = tokenizeBigram(text)
	} else {
		tokens = tokenizeWords(text)
	}

	t.cache.Add(key, tokens)
	return cloneTokens(tokens), nil
}

func cacheKey(base, text string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(base)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(text)
	return h.Sum64()
}

// tokenizeWords lowercases and splits on non-token runes. Hyphens and
// underscores are token characters so entity ids like "test-123" embedded in
// text survive as a single searchable term.
func tokenizeWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isTokenRune(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "-_")
		if f == "" {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// tokenizeBigram emits overlapping character bigrams for runs of CJK/Thai
// script and falls back to word tokens for embedded latin/digit runs.
// Single-rune runs are emitted as unigrams.
func tokenizeBigram(text string) []string {
	var tokens []string
	var word []rune
	var run []rune

	flushWord := func() {
		if len(word) == 0 {
			return
		}
		w := strings.Trim(strings.ToLower(string(word)), "-_")
		if w != "" {
			tokens = append(tokens, w)
		}
		word = word[:0]
	}
	flushRun := func() {
		switch {
		case len(run) == 1:
			tokens = append(tokens, string(run))
		case len(run) > 1:
			for i := 0; i+1 < len(run); i++ {
				tokens = append(tokens, string(run[i:i+2]))
			}
		}
		run = run[:0]
	}

	for _, r := range text {
		switch {
		case isBigramRune(r):
			flushWord()
			run = append(run, r)
		case isTokenRune(r):
			flushRun()
			word = append(word, r)
		default:
			flushWord()
			flushRun()
		}
	}
	flushWord()
	flushRun()
	return tokens
}

func isTokenRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_'
}

func isBigramRune(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r) ||
		unicode.Is(unicode.Thai, r)
}

func cloneTokens(tokens []string) []string {
	out := make([]string, len(tokens))
	copy(out, tokens)
	return out
}
