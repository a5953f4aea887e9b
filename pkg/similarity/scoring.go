package similarity

import (
	"strings"
	"unicode"
)

// LevenshteinRatio returns 1 - distance/max(len(a), len(b)), a similarity in
// [0,1].
func LevenshteinRatio(a, b string) float64 {
	maxLen := max(len(a), len(b))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(LevenshteinDistance(a, b))/float64(maxLen)
}

// LevenshteinDistance computes the edit distance between two strings.
func LevenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	row := make([]int, len(b)+1)
	prevRow := make([]int, len(b)+1)

	for j := 0; j <= len(b); j++ {
		prevRow[j] = j
	}

	for i := 1; i <= len(a); i++ {
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			row[j] = min(min(row[j-1]+1, prevRow[j]+1), prevRow[j-1]+cost)
		}
		row, prevRow = prevRow, row
	}

	return prevRow[len(b)]
}

// Soundex calculates the Soundex encoding of a string.
func Soundex(str string) string {
	if len(str) == 0 {
		return ""
	}

	str = strings.ToUpper(str)

	result := string(str[0])
	prevCode := soundexCode(rune(str[0]))

	for i := 1; i < len(str) && len(result) < 4; i++ {
		char := rune(str[i])
		if !unicode.IsLetter(char) {
			continue
		}

		code := soundexCode(char)
		if code != "0" && code != prevCode {
			result += code
		}
		prevCode = code
	}

	for len(result) < 4 {
		result += "0"
	}

	return result
}

func soundexCode(char rune) string {
	switch char {
	case 'B', 'F', 'P', 'V':
		return "1"
	case 'C', 'G', 'J', 'K', 'Q', 'S', 'X', 'Z':
		return "2"
	case 'D', 'T':
		return "3"
	case 'L':
		return "4"
	case 'M', 'N':
		return "5"
	case 'R':
		return "6"
	default:
		return "0"
	}
}

// Metaphone calculates a simplified Metaphone encoding.
func Metaphone(str string) string {
	if len(str) == 0 {
		return ""
	}

	str = strings.ToUpper(str)

	var letters strings.Builder
	for _, char := range str {
		if unicode.IsLetter(char) {
			letters.WriteRune(char)
		}
	}
	str = letters.String()

	if len(str) == 0 {
		return ""
	}

	var metaphone strings.Builder
	prevCode := byte(0)

	for i := 0; i < len(str) && metaphone.Len() < 6; i++ {
		code := metaphoneCode(str[i], i, str)
		if code != 0 && code != prevCode {
			metaphone.WriteByte(code)
			prevCode = code
		}
	}

	return metaphone.String()
}

func metaphoneCode(char byte, pos int, word string) byte {
	switch char {
	case 'A', 'E', 'I', 'O', 'U':
		if pos == 0 {
			return char
		}
		return 0
	case 'B':
		return 'B'
	case 'C':
		if pos+1 < len(word) && (word[pos+1] == 'I' || word[pos+1] == 'E' || word[pos+1] == 'Y') {
			return 'S'
		}
		return 'K'
	case 'D':
		return 'T'
	case 'F':
		return 'F'
	case 'G':
		return 'J'
	case 'H':
		return 0 // usually silent
	case 'J':
		return 'J'
	case 'K':
		return 'K'
	case 'L':
		return 'L'
	case 'M':
		return 'M'
	case 'N':
		return 'N'
	case 'P':
		if pos+1 < len(word) && word[pos+1] == 'H' {
			return 'F'
		}
		return 'P'
	case 'Q':
		return 'K'
	case 'R':
		return 'R'
	case 'S':
		return 'S'
	case 'T':
		return 'T'
	case 'V':
		return 'F'
	case 'W':
		return 0
	case 'X':
		return 'S'
	case 'Y':
		return 0
	case 'Z':
		return 'S'
	default:
		return 0
	}
}

// TokenSetRatio compares two strings as unordered token sets (Jaccard index),
// which handles word reordering in addresses and multi-word names.
func TokenSetRatio(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}
