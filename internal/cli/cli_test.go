package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/attrmap/store"
)

// execute runs attrctl with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "attrctl.db")
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "attrctl", cmd.Use)
	assert.Contains(t, cmd.Long, "list of strings")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"containers", "get", "put", "delete", "select"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	dryRunFlag := cmd.PersistentFlags().Lookup("dry-run")
	require.NotNil(t, dryRunFlag)
	assert.Equal(t, "false", dryRunFlag.DefValue)
}

func TestSelectCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	selectCmd, _, err := cmd.Find([]string{"select"})
	require.NoError(t, err)

	assert.NotNil(t, selectCmd.Flags().Lookup("max-pages"))
	assert.NotNil(t, selectCmd.Flags().Lookup("consistent"))
}

func TestInvalidFlags(t *testing.T) {
	_, err := execute(t, "--format", "xml", "containers")
	assert.ErrorContains(t, err, "invalid format")

	_, err = execute(t, "--backend", "postgres", "containers")
	assert.ErrorContains(t, err, "invalid backend")
}

func TestLoadFileConfig(t *testing.T) {
	input := `
backend: dynamo
tablePrefix: prod-
store:
  maxAttributeLength: 512
  consistentReads: true
`
	fc, cfg, err := LoadFileConfig(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "dynamo", fc.Backend)
	assert.Equal(t, "prod-", fc.TablePrefix)
	assert.Equal(t, 512, cfg.MaxAttributeLength)
	assert.True(t, cfg.ConsistentReads)
	assert.Equal(t, store.DefaultConfig().MaxBatchSize, cfg.MaxBatchSize)
}

func TestLoadFileConfig_NoStoreSection(t *testing.T) {
	fc, cfg, err := LoadFileConfig(strings.NewReader("db: local.db\n"))
	require.NoError(t, err)
	assert.Equal(t, "local.db", fc.DB)
	assert.Equal(t, store.DefaultConfig().MaxAttributeLength, cfg.MaxAttributeLength)
}

func TestLoadFileConfig_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unknown key", "bakend: sqlite\n"},
		{"unknown store key", "store:\n  maxAttrLength: 10\n"},
		{"invalid length", "store:\n  maxAttributeLength: 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := LoadFileConfig(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestResolve_FlagsOverrideDefaults(t *testing.T) {
	opts := &RootOptions{TablePrefix: "dev-"}
	fc, _, err := opts.resolve()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", fc.Backend)
	assert.Equal(t, "attrmap.db", fc.DB)
	assert.Equal(t, "dev-", fc.TablePrefix)
}

func TestParseAssignments(t *testing.T) {
	v, err := parseAssignments("w-1", []string{"colour=red", "colour=blue", "note=a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, "w-1", v.ID())

	colours, _ := v.Get("colour")
	assert.Equal(t, []any{"red", "blue"}, colours)
	note, _ := v.Get("note")
	assert.Equal(t, []any{"a=b"}, note)
	empty, _ := v.Get("empty")
	assert.Equal(t, []any{""}, empty)

	_, err = parseAssignments("w-1", []string{"colour"})
	assert.Error(t, err)
	_, err = parseAssignments("w-1", []string{"=red"})
	assert.Error(t, err)
}

func TestSQLiteWorkflow(t *testing.T) {
	db := tempDB(t)
	g := goldie.New(t)

	_, err := execute(t, "--db", db, "put", "widgets", "w-1", "colour=red", "colour=blue", "size=L")
	require.NoError(t, err)
	_, err = execute(t, "--db", db, "put", "widgets", "w-2", "colour=green")
	require.NoError(t, err)

	out, err := execute(t, "--db", db, "get", "widgets", "w-1")
	require.NoError(t, err)
	g.Assert(t, "get_text", []byte(out))

	out, err = execute(t, "--db", db, "select", "select count(*) from widgets")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	_, err = execute(t, "--db", db, "delete", "widgets", "w-1", "size")
	require.NoError(t, err)

	out, err = execute(t, "--db", db, "select", "select * from widgets")
	require.NoError(t, err)
	g.Assert(t, "select_text", []byte(out))

	out, err = execute(t, "--db", db, "containers")
	require.NoError(t, err)
	assert.Equal(t, "widgets\n", out)

	_, err = execute(t, "--db", db, "delete", "widgets", "w-1")
	require.NoError(t, err)

	_, err = execute(t, "--db", db, "get", "widgets", "w-1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestGet_YAML(t *testing.T) {
	db := tempDB(t)

	_, err := execute(t, "--db", db, "put", "widgets", "w-1", "colour=red")
	require.NoError(t, err)

	out, err := execute(t, "--db", db, "--format", "yaml", "get", "widgets", "w-1")
	require.NoError(t, err)
	assert.Contains(t, out, "item: w-1")
	assert.Contains(t, out, "colour:")
	assert.Contains(t, out, "- red")
}

func TestDryRun(t *testing.T) {
	db := tempDB(t)

	out, err := execute(t, "--db", db, "--dry-run", "put", "widgets", "w-1", "colour=red", "colour=blue")
	require.NoError(t, err)
	assert.Contains(t, out, "[dry-run ")
	assert.Contains(t, out, "put widgets")
	assert.Contains(t, out, "colour := red")
	assert.Contains(t, out, "colour += blue")

	_, err = execute(t, "--db", db, "get", "widgets", "w-1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestDryRun_YAML(t *testing.T) {
	out, err := execute(t, "--db", tempDB(t), "--dry-run", "--format", "yaml", "delete", "widgets", "w-1")
	require.NoError(t, err)
	assert.Contains(t, out, "session:")
	assert.Contains(t, out, "op: delete")
	assert.Contains(t, out, "container: widgets")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(&ExitError{Code: ExitFailure, Message: "x"}))
	assert.Equal(t, ExitCommandError, GetExitCode(assert.AnError))
}
