package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"lowercases", "GARCIA", "garcia"},
		{"trims_and_collapses", "  maria   jose  ", "maria jose"},
		{"strips_accents", "Óscar Muñoz Hernández", "oscar munoz hernandez"},
		{"separators_to_space", "garcia-lopez, maria.jose", "garcia lopez maria jose"},
		{"drops_other_punct", "acme (obras) #3", "acme obras 3"},
		{"keeps_digits", "TC2 07/2025", "tc2 07 2025"},
		{"cedilla", "Çelik", "celik"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"Óscar  Ruiz",
		"GARCÍA LÓPEZ, MARÍA (12345678Z)",
		"construcciones pérez s.l.",
		"",
		"a-b_c/d.e",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestNormalizeAccentCaseInsensitive(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Normalize("oscar ruiz"), Normalize("Óscar  Ruiz"))
	assert.Equal(t, Normalize("JOSE MUNOZ"), Normalize("josé muñoz"))
}

func TestExtractIdentifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"no_identifier", "GARCIA LOPEZ, MARIA", ""},
		{"parenthesized", "GARCIA LOPEZ, MARIA (12345678Z)", "12345678Z"},
		{"parenthesized_nie", "Kowalski, Jan (X1234567L)", "X1234567L"},
		{"at_end", "MARIA GARCIA 12345678Z", "12345678Z"},
		{"at_end_with_dash", "MARIA GARCIA 12345678-Z", "12345678Z"},
		{"at_end_trailing_dot", "MARIA GARCIA 12345678Z.", "12345678Z"},
		{"anywhere", "DNI 12345678Z MARIA GARCIA", "12345678Z"},
		{"lowercase", "maria garcia (12345678z)", "12345678Z"},
		{"nie_spaced", "y 1234567 x resident", "Y1234567X"},
		{"prefers_paren_over_end", "junk (12345678Z) tail 87654321X", "12345678Z"},
		{"not_part_of_longer_number", "ref 123456789Z012", ""},
		{"phone_not_identifier", "tel 600123456", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExtractIdentifier(tt.in))
		})
	}
}

func TestCanonicalIdentifier(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "12345678Z", CanonicalIdentifier("12345678z"))
	assert.Equal(t, "12345678Z", CanonicalIdentifier(" 12345678-Z "))
	assert.Equal(t, "X1234567L", CanonicalIdentifier("x-1234567-l"))
	assert.Equal(t, "", CanonicalIdentifier("1234567Z"))
	assert.Equal(t, "", CanonicalIdentifier("not an id"))
	assert.Equal(t, "", CanonicalIdentifier(""))
}

func TestValidIdentifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   string
		want bool
	}{
		{"12345678Z", true},
		{"12345678-z", true},
		{"12345678A", false},
		{"00000000T", true},
		{"X0000000T", true},
		{"Y0000000Z", true},
		{"Z0000000M", true},
		{"X0000000A", false},
		{"garbage", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidIdentifier(tt.id), "id %q", tt.id)
	}
}

func TestCompanyKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Acme Obras", "acme obras"},
		{"sl_dotted", "Construcciones Pérez, S.L.", "construcciones perez"},
		{"sl_bare", "CONSTRUCCIONES PEREZ SL", "construcciones perez"},
		{"sa", "Ferrallas del Norte S.A.", "ferrallas del norte"},
		{"slu", "Andamios Ruiz SLU", "andamios ruiz"},
		{"long_form", "Excavaciones Soto Sociedad Limitada", "excavaciones soto"},
		{"ute", "Puente Sur UTE", "puente sur"},
		{"suffix_only_kept", "SL", "sl"},
		{"suffix_mid_name_kept", "SL Montajes", "sl montajes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CompanyKey(tt.in))
		})
	}
}

func TestCompanyKeyEquivalence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CompanyKey("Construcciones Pérez, S.L."), CompanyKey("construcciones perez sl"))
	assert.NotEqual(t, CompanyKey("Construcciones Pérez"), CompanyKey("Construcciones Gómez"))
}
