package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"plan", "execute", "runs", "import", "doctypes", "session", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "coordina-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestPlanCommand_Flags(t *testing.T) {
	for _, name := range []string{"platform", "own-company", "company", "company-key", "person", "scope", "limit", "only-target"} {
		flag := planCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "plan command should have --%s flag", name)
	}

	assert.Equal(t, "worker", planCmd.Flags().Lookup("scope").DefValue)
}

func TestExecuteCommand_Flags(t *testing.T) {
	for _, name := range []string{
		"platform", "own-company", "company",
		"real", "dry-run", "confirm-token", "confirm-text",
		"max-uploads", "allow-type", "min-confidence",
		"rate-limit-seconds", "stop-on-first-error",
	} {
		flag := executeCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "execute command should have --%s flag", name)
	}

	assert.Equal(t, "false", executeCmd.Flags().Lookup("real").DefValue)
	assert.Equal(t, "false", executeCmd.Flags().Lookup("dry-run").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	cmds := runsCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, name := range []string{"list", "show", "stats", "prune"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}
}

func TestImportCommand_HasSubcommands(t *testing.T) {
	cmds := importCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	assert.True(t, names["people"], "import should have subcommand people")
	assert.True(t, names["documents"], "import should have subcommand documents")
	assert.True(t, importDocumentsCmd.HasAlias("docs"))
}

func TestSessionCommand_HasSubcommands(t *testing.T) {
	cmds := sessionCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	assert.True(t, names["save"], "session should have subcommand save")
	assert.True(t, names["check"], "session should have subcommand check")
}

func TestCoordFromFlags(t *testing.T) {
	require.NoError(t, planCmd.Flags().Set("platform", "coordinaplus"))
	require.NoError(t, planCmd.Flags().Set("own-company", "Ribera Montajes SL"))
	require.NoError(t, planCmd.Flags().Set("company", "Acme Obras SA"))

	coord := coordFromFlags(planCmd)
	assert.Equal(t, "coordinaplus", coord.Platform)
	assert.Equal(t, "Ribera Montajes SL", coord.OwnCompany)
	assert.Equal(t, "Acme Obras SA", coord.CoordinatedCompany)
	assert.True(t, coord.Active())
}
