package scheduler

import (
	"strings"
	"unicode"
)

// stopwords are skipped when deriving a prefix from a reminder's message,
// across the four supported languages.
var stopwords = map[string]bool{
	"de": true, "da": true, "do": true, "para": true, "a": true, "o": true, "e": true,
	"que": true, "em": true, "no": true, "na": true,
	"to": true, "the": true, "for": true, "of": true, "at": true, "and": true,
	"el": true, "la": true, "los": true, "las": true, "un": true, "una": true,
}

// derivePrefix picks 2-4 uppercase letters from the first meaningful word
// of text, for use as a CronJob short id seed.
func derivePrefix(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		lower := strings.ToLower(f)
		if stopwords[lower] || len([]rune(f)) < 2 {
			continue
		}
		letters := []rune(strings.ToUpper(f))
		n := 2
		if len(letters) >= 4 {
			n = 4
		} else if len(letters) == 3 {
			n = 3
		}
		return string(letters[:n])
	}
	return "JB"
}

// nextID returns an id not already present in taken, starting from prefix
// and appending a numeric collision suffix.
func nextID(prefix string, taken map[string]bool) string {
	if !taken[prefix] {
		return prefix
	}
	for i := 2; i < 1000; i++ {
		candidate := prefix + itoa(i)
		if !taken[candidate] {
			return candidate
		}
	}
	return prefix + "X"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
