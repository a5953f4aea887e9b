// Package normalize canonicalizes raw values into comparable forms. String
// normalization is lossy by design: it trades byte fidelity for match recall,
// which is what drives both false positives and false negatives downstream.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Ramsey-B/thistle/pkg/models"
)

// Policy holds deployment-level normalization switches.
type Policy struct {
	// FoldEmailTags collapses "+tag" address extensions (user+x@y -> user@y).
	// Off by default: tag folding merges addresses some deployments consider
	// distinct.
	FoldEmailTags bool
}

// Result is a normalized value plus a quality flag. LowQuality marks values
// that normalized but look malformed for their kind; they still participate in
// matching so garbage input never fails a query.
type Result struct {
	Value      string
	LowQuality bool
}

var spaceRe = regexp.MustCompile(`\s+`)

// Value normalizes raw for the given kind under the default policy. Pure and
// total: malformed input yields a best-effort form flagged low quality, never
// an error. Binary kinds have no normalized string form; use ContentHash.
func Value(kind models.FieldKind, raw string) Result {
	return ValueWithPolicy(kind, raw, Policy{})
}

// ValueWithPolicy is Value with an explicit policy.
func ValueWithPolicy(kind models.FieldKind, raw string, policy Policy) Result {
	switch kind {
	case models.FieldKindEmail:
		return email(raw, policy)
	case models.FieldKindPhone:
		return phone(raw)
	case models.FieldKindName:
		return name(raw)
	case models.FieldKindAddress:
		return address(raw)
	case models.FieldKindFile:
		return Result{}
	default:
		v := strings.ToLower(strings.TrimSpace(raw))
		return Result{Value: v, LowQuality: v == ""}
	}
}

// ContentHash returns the hex SHA-256 of the bytes. Exact and
// collision-resistant, unlike string normalization.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func email(raw string, policy Policy) Result {
	v := strings.ToLower(strings.TrimSpace(raw))

	if policy.FoldEmailTags {
		if at := strings.LastIndex(v, "@"); at > 0 {
			local := v[:at]
			if plus := strings.Index(local, "+"); plus > 0 {
				v = local[:plus] + v[at:]
			}
		}
	}

	at := strings.LastIndex(v, "@")
	lowQuality := at <= 0 || at == len(v)-1
	return Result{Value: v, LowQuality: lowQuality}
}

// phone strips everything but digits, keeping a leading "+". Numbers without a
// country code stay unprefixed; guessing a country would manufacture false
// matches.
func phone(raw string) Result {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		if unicode.IsDigit(r) || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	v := b.String()
	digits := strings.TrimPrefix(v, "+")
	return Result{Value: v, LowQuality: len(digits) < 5}
}

func name(raw string) Result {
	v := stripDiacritics(raw)
	v = strings.ToLower(v)
	v = spaceRe.ReplaceAllString(strings.TrimSpace(v), " ")
	return Result{Value: v, LowQuality: v == ""}
}

// addressAbbreviations is a small fixed table; anything fancier belongs in a
// dedicated address parser, not here.
var addressAbbreviations = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"boulevard": "blvd",
	"drive":     "dr",
	"road":      "rd",
	"lane":      "ln",
	"court":     "ct",
	"circle":    "cir",
	"place":     "pl",
	"apartment": "apt",
	"suite":     "ste",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
}

func address(raw string) Result {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = spaceRe.ReplaceAllString(v, " ")

	words := strings.Split(v, " ")
	for i, w := range words {
		if abbr, ok := addressAbbreviations[w]; ok {
			words[i] = abbr
		}
	}
	v = strings.Join(words, " ")
	return Result{Value: v, LowQuality: v == ""}
}

func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
