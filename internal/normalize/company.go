package normalize

import "strings"

// legalSuffixes lists Spanish legal entity suffixes to strip when
// deriving a company key, in their post-Normalize form. Ordered longest
// first so "sociedad limitada unipersonal" wins over "sociedad
// limitada".
var legalSuffixes = []string{
	"sociedad de responsabilidad limitada",
	"sociedad limitada nueva empresa",
	"sociedad limitada unipersonal",
	"sociedad anonima unipersonal",
	"sociedad limitada laboral",
	"sociedad anonima laboral",
	"sociedad limitada",
	"sociedad anonima",
	"sociedad cooperativa",
	"sociedad civil",
	"s coop",
	"s l n e",
	"s l u",
	"s a u",
	"s l l",
	"s a l",
	"s l p",
	"s c p",
	"u t e",
	"a i e",
	"s l",
	"s a",
	"s c",
	"c b",
	"slne",
	"scoop",
	"slu",
	"sau",
	"sll",
	"sal",
	"slp",
	"scp",
	"ute",
	"aie",
	"sl",
	"sa",
	"cb",
}

// CompanyKey derives the matching key for a company name: Normalize,
// then drop one trailing legal suffix. "Construcciones Pérez, S.L." and
// "CONSTRUCCIONES PEREZ SL" map to the same key. The suffix is kept
// when stripping it would leave nothing.
func CompanyKey(name string) string {
	key := Normalize(name)
	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(key, " "+suffix) {
			return strings.TrimSpace(strings.TrimSuffix(key, suffix))
		}
	}
	return key
}
