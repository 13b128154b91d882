package index

import (
	"strings"
	"unicode"

	snowballeng "github.com/kljensen/snowball/english"
)

// Tokenize is the normalization pipeline shared by indexing and querying:
// lowercase, replace anything but letters, digits and spaces with a space,
// split on whitespace, drop stopwords and single-character tokens, then stem.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, strings.ToLower(text))

	fields := strings.Fields(cleaned)
	tokens := make([]string, 0, len(fields))
	for _, tok := range fields {
		if len([]rune(tok)) <= 1 || snowballeng.IsStopWord(tok) {
			continue
		}
		tokens = append(tokens, snowballeng.Stem(tok, false))
	}
	return tokens
}
