// Package tokenizer splits field text into word tokens for the forward
// index. It lower-cases words, splits on non-alphanumeric boundaries,
// removes stop-words, and applies a simple suffix-based stemmer. Byte
// offsets always refer to the original text.
package tokenizer

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Token is a single normalised word, its position among the kept words and
// its byte span [StartOffset, EndOffset) in the original text.
type Token struct {
	Term        string
	Position    int
	StartOffset int
	EndOffset   int
}

// Tokenize breaks text into stemmed, lowercased Tokens with stop-words
// removed. Positions are consecutive from zero.
func Tokenize(text string) []Token {
	tokens := make([]Token, 0, len(text)/8)
	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = appendWord(tokens, text, start, i)
			start = -1
		}
	}
	if start >= 0 {
		tokens = appendWord(tokens, text, start, len(text))
	}
	return tokens
}

func appendWord(tokens []Token, text string, start, end int) []Token {
	word := strings.ToLower(text[start:end])
	if len(word) < 2 {
		return tokens
	}
	if _, isStop := stopWords[word]; isStop {
		return tokens
	}
	stemmed := stem(word)
	if stemmed == "" {
		return tokens
	}
	return append(tokens, Token{
		Term:        stemmed,
		Position:    len(tokens),
		StartOffset: start,
		EndOffset:   end,
	})
}

var suffixes = []struct {
	suffix      string
	replacement string
	minLen      int
}{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

// stem applies a simple suffix-stripping stemmer to the given word.
func stem(word string) string {
	for _, rule := range suffixes {
		if strings.HasSuffix(word, rule.suffix) {
			newWord := word[:len(word)-len(rule.suffix)] + rule.replacement
			if len(newWord) >= rule.minLen {
				return newWord
			}
		}
	}
	return word
}
