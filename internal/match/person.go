// Package match implements subject matching and confidence scoring for
// pending obligations: free-text person matching against the worker
// registry and candidate selection over the document catalog.
package match

import (
	"strings"

	"github.com/ribera-group/coordina-cli/internal/model"
	"github.com/ribera-group/coordina-cli/internal/normalize"
)

// BuildMatchTokens generates the normalized name variants a portal row
// may present for a person. Portals show "Surname1 Surname2, Name",
// "Name Surname1 Surname2", or a single surname, so every ordering is
// emitted. The identifier, when present, is emitted in the same
// normalized (lower-case) space as the name variants. Empty variants
// are never emitted.
func BuildMatchTokens(p model.PersonIdentity) []string {
	first := normalize.Normalize(p.FullName)
	s1 := normalize.Normalize(p.Surname1)
	s2 := normalize.Normalize(p.Surname2)

	var variants []string
	add := func(parts ...string) {
		token := joinNonEmpty(parts)
		if token == "" {
			return
		}
		for _, seen := range variants {
			if seen == token {
				return
			}
		}
		variants = append(variants, token)
	}

	add(first, s1, s2)
	add(s1, s2, first)
	add(first, s1)
	add(s1, first)
	if s2 != "" {
		add(first, s2)
	}
	if id := normalize.CanonicalIdentifier(p.DNI); id != "" {
		add(strings.ToLower(id))
	}
	return variants
}

func joinNonEmpty(parts []string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += p
	}
	return out
}

// PersonMatch describes how a person matched a free-text subject.
// Partial is set when only a single-surname variant matched, which the
// scorer treats as weaker evidence than a full-name hit.
type PersonMatch struct {
	Person  model.PersonIdentity
	Basis   model.MatchBasis
	Partial bool
}

// MatchPerson tests a person against a portal row's free-text subject.
// When both sides carry an identifier, identifier equality decides the
// outcome outright. Otherwise the normalized text must contain one of
// the person's name variants. A person with no identifier and no name
// tokens never matches.
func MatchPerson(p model.PersonIdentity, freeText string) (PersonMatch, bool) {
	personID := normalize.CanonicalIdentifier(p.DNI)
	textID := normalize.ExtractIdentifier(freeText)
	if personID != "" && textID != "" {
		if personID == textID {
			return PersonMatch{Person: p, Basis: model.MatchBasisDNI}, true
		}
		return PersonMatch{}, false
	}

	text := normalize.Normalize(freeText)
	if text == "" {
		return PersonMatch{}, false
	}

	full := joinNonEmpty([]string{
		normalize.Normalize(p.FullName),
		normalize.Normalize(p.Surname1),
		normalize.Normalize(p.Surname2),
	})
	for _, token := range BuildMatchTokens(p) {
		if !containsToken(text, token) {
			continue
		}
		m := PersonMatch{Person: p, Basis: model.MatchBasisNameTokens}
		if personID != "" && token == strings.ToLower(personID) {
			m.Basis = model.MatchBasisDNI
		} else if countWords(token) < countWords(full) {
			m.Partial = true
		}
		return m, true
	}
	return PersonMatch{}, false
}

// Matches reports whether the person matches the free-text subject.
func Matches(p model.PersonIdentity, freeText string) bool {
	_, ok := MatchPerson(p, freeText)
	return ok
}

// containsToken does a substring check on normalized text. Tokens are
// guaranteed non-empty by BuildMatchTokens; the guard keeps an empty
// token from matching everything if that ever changes.
func containsToken(text, token string) bool {
	return token != "" && strings.Contains(text, token)
}

func countWords(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, " ") + 1
}
