package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ledger.db")
	cfgPath := filepath.Join(dir, "config.toml")
	body := "[storage]\nbackend = \"sqlite\"\nsqlite_path = \"" + filepath.ToSlash(dbPath) + "\"\n\n[log]\nlevel = \"error\"\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath, dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands_ImportListExport(t *testing.T) {
	cfgPath, dir := writeTestConfig(t)

	out, err := run(t, "--config", cfgPath, "migrate")
	require.NoError(t, err)
	require.Contains(t, out, "version 1")

	csvPath := filepath.Join(dir, "jan.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(
		"Date,Description,Amount,Currency\n"+
			"1-1-2024,Coffee,5,USD\n"+
			"1-1-2024,coffee,6,USD\n"+
			"2-1-2024,Lunch,-3,USD\n"), 0o600))

	processed := filepath.Join(dir, "processed.csv")
	out, err = run(t, "--config", cfgPath, "import", csvPath, "--processed-csv", processed)
	require.NoError(t, err)
	require.Contains(t, out, "Accepted:            1")
	require.Contains(t, out, "Duplicates in batch: 1")
	require.Contains(t, out, "NegativeAmount")
	require.Contains(t, out, "USD total: 5.00")

	data, err := os.ReadFile(processed)
	require.NoError(t, err)
	require.Contains(t, string(data), ",2024-01-01,Coffee,5,USD,428.86")

	// Re-importing the same file stores nothing new.
	out, err = run(t, "--config", cfgPath, "import", csvPath)
	require.NoError(t, err)
	require.Contains(t, out, "Accepted:            0")
	require.Contains(t, out, "Duplicates in store: 1")

	out, err = run(t, "--config", cfgPath, "list")
	require.NoError(t, err)
	require.Contains(t, out, "Coffee")
	require.Contains(t, out, "428.86")
	require.Contains(t, out, "Page 1 of 1 (1 transactions)")

	out, err = run(t, "--config", cfgPath, "list", "--deleted")
	require.NoError(t, err)
	require.Contains(t, out, "(0 transactions)")

	out, err = run(t, "--config", cfgPath, "export")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "id,date,description,originalAmount,currency,amountInReferenceCurrency", lines[0])

	xlsxPath := filepath.Join(dir, "out.xlsx")
	out, err = run(t, "--config", cfgPath, "export", "--format", "xlsx", "-o", xlsxPath)
	require.NoError(t, err)
	require.Contains(t, out, xlsxPath)
	_, err = os.Stat(xlsxPath)
	require.NoError(t, err)
}

func TestCommands_Errors(t *testing.T) {
	cfgPath, dir := writeTestConfig(t)

	_, err := run(t, "--config", cfgPath, "export", "--format", "pdf")
	require.Error(t, err)

	_, err = run(t, "--config", cfgPath, "import", filepath.Join(dir, "missing.csv"))
	require.Error(t, err)

	txtPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("hello"), 0o600))
	_, err = run(t, "--config", cfgPath, "import", txtPath)
	require.Error(t, err)

	_, err = run(t, "--config", cfgPath, "export")
	require.Error(t, err)

	_, err = run(t, "--config", filepath.Join(dir, "nope.toml"), "list")
	require.Error(t, err)
}

func TestCommands_MigrateDown(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	_, err := run(t, "--config", cfgPath, "migrate")
	require.NoError(t, err)

	out, err := run(t, "--config", cfgPath, "migrate", "--down")
	require.NoError(t, err)
	require.Contains(t, out, "version 0")
}
