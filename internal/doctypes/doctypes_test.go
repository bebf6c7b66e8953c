package doctypes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ribera-group/coordina-cli/internal/model"
)

func TestBuiltinResolvesCommonLabels(t *testing.T) {
	t.Parallel()

	r := Builtin()

	tests := []struct {
		label string
		want  string
	}{
		{"RNT", "rnt"},
		{"rnt", "rnt"},
		{"TC2", "rnt"},
		{"Relación Nominal de Trabajadores", "rnt"},
		{"RLC (TC1)", "rlc"},
		{"Apto médico", "apto_medico"},
		{"FORMACION PRL", "formacion_prl"},
		{"Entrega de EPIs", "entrega_epis"},
		{"Certificado AEAT", "cert_aeat"},
	}

	for _, tt := range tests {
		ids := r.Resolve(tt.label)
		require.NotEmpty(t, ids, "label %q", tt.label)
		assert.Equal(t, tt.want, ids[0], "label %q", tt.label)
	}
}

func TestResolveContainment(t *testing.T) {
	t.Parallel()

	r := Builtin()

	ids := r.Resolve("RNT Julio 2025")
	require.NotEmpty(t, ids)
	assert.Equal(t, "rnt", ids[0])

	// Word boundaries: an alias inside another word is not a hit.
	assert.Empty(t, r.Resolve("barnton holdings quarterly"))
	assert.Empty(t, r.Resolve("documento desconocido"))
	assert.Empty(t, r.Resolve(""))
}

func TestResolveScoped(t *testing.T) {
	t.Parallel()

	r := Builtin()

	assert.Equal(t, []string{"rnt"}, r.ResolveScoped("RNT", model.ScopeCompany))
	assert.Empty(t, r.ResolveScoped("RNT", model.ScopeWorker))
	assert.Equal(t, []string{"apto_medico"}, r.ResolveScoped("apto medico", model.ScopeWorker))
}

func TestRegistryValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry([]TypeDef{{ID: "", Name: "x", Scope: model.ScopeCompany}})
	assert.Error(t, err)

	_, err = NewRegistry([]TypeDef{{ID: "a", Name: "x", Scope: "site"}})
	assert.Error(t, err)

	_, err = NewRegistry([]TypeDef{
		{ID: "a", Name: "x", Scope: model.ScopeCompany},
		{ID: "a", Name: "y", Scope: model.ScopeCompany},
	})
	assert.Error(t, err)
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "types.yaml")
	content := `types:
  - id: rnt
    name: Relación Nominal de Trabajadores
    scope: company
    aliases: ["RNT", "TC2"]
  - id: apto_medico
    name: Certificado de aptitud médica
    scope: worker
    aliases: ["apto medico"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r, err := Load(path)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"rnt", "apto_medico"}, r.IDs())
	assert.Equal(t, []string{"rnt"}, r.Resolve("tc2"))

	td, ok := r.Get("apto_medico")
	require.True(t, ok)
	assert.Equal(t, model.ScopeWorker, td.Scope)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("types: []\n"), 0o644))
	_, err = Load(empty)
	assert.Error(t, err)
}
