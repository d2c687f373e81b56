package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/manualrag-go/internal/rag"
	"github.com/54b3r/manualrag-go/internal/registry"
	"github.com/54b3r/manualrag-go/internal/retrieval"
	"github.com/54b3r/manualrag-go/internal/version"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"plain error", errors.New("boom"), 1},
		{"retryable", &retrieval.Error{Op: retrieval.OpQuery, Stage: retrieval.StageEmbed, Err: rag.ErrEmbeddingService}, 75},
		{"permanent", &retrieval.Error{Op: retrieval.OpQuery, Stage: retrieval.StageRegister, Err: rag.ErrManualNotFound}, 2},
		{"wrapped", fmt.Errorf("query: %w", &retrieval.Error{Op: retrieval.OpUpload, Stage: retrieval.StageStore, Err: rag.ErrStorage}), 75},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ExitCode(tc.err))
		})
	}
}

func TestLoadDotEnv_MissingDefaultIgnored(t *testing.T) {
	t.Chdir(t.TempDir())
	assert.NoError(t, loadDotEnv(".env"))
	assert.NoError(t, loadDotEnv(""))
}

func TestLoadDotEnv_MissingExplicitFails(t *testing.T) {
	t.Parallel()
	err := loadDotEnv(filepath.Join(t.TempDir(), "custom.env"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("MANUALRAG_TEST_A=from-file\nMANUALRAG_TEST_B=from-file\n"), 0o600))

	t.Setenv("MANUALRAG_TEST_A", "from-env")
	t.Setenv("MANUALRAG_TEST_B", "")
	require.NoError(t, os.Unsetenv("MANUALRAG_TEST_B"))

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-env", os.Getenv("MANUALRAG_TEST_A"))
	assert.Equal(t, "from-file", os.Getenv("MANUALRAG_TEST_B"))
}

func TestPrintJSON_Indented(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[string]int{"k": 1}))
	assert.Equal(t, "{\n  \"k\": 1\n}\n", buf.String())
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("MANUALRAG_TEST_INT", "7")
	t.Setenv("MANUALRAG_TEST_BAD", "seven")
	t.Setenv("MANUALRAG_TEST_DUR", "2s")

	assert.Equal(t, 7, getEnvInt("MANUALRAG_TEST_INT", 3))
	assert.Equal(t, 3, getEnvInt("MANUALRAG_TEST_BAD", 3))
	assert.Equal(t, 3, getEnvInt("MANUALRAG_TEST_UNSET", 3))
	assert.Equal(t, "2s", getEnvDuration("MANUALRAG_TEST_DUR", 0).String())
	assert.Equal(t, "fallback", getEnvOrDefault("MANUALRAG_TEST_UNSET", "fallback"))
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv("ACCOUNT_ADDRESS", "0xabc")
	t.Setenv("PRIVATE_KEY", "deadbeef")

	creds := credentialsFromEnv()
	assert.Equal(t, "0xabc", creds.Account)
	assert.Equal(t, "deadbeef", creds.PrivateKey)
}

func TestVersionCmd(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	cmd := NewVersionCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())

	var info versionInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, version.Version, info.Version)
	assert.Equal(t, version.Commit, info.Commit)
	assert.NotEmpty(t, info.Go)
}

func TestHistoryCmd_ListsVersions(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "registry.db")
	t.Setenv("REGISTRY_BACKEND", "sqlite")
	t.Setenv("REGISTRY_DSN", dsn)

	ctx := context.Background()
	reg, err := registry.Open(ctx, registry.ConfigFromEnv())
	require.NoError(t, err)
	for v := 1; v <= 2; v++ {
		_, err := reg.Register(ctx, rag.Registration{
			ManualID:      "router-x1",
			ContentHandle: rag.Handle(fmt.Sprintf("QmC%d", v)),
			VectorHandle:  rag.Handle(fmt.Sprintf("QmV%d", v)),
			Version:       v,
		}, rag.Credentials{Account: "0xabc"})
		require.NoError(t, err)
	}
	require.NoError(t, reg.Close())

	var out bytes.Buffer
	cmd := NewHistoryCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--manual-id", "router-x1"})
	require.NoError(t, cmd.ExecuteContext(ctx))

	var entries []historyEntry
	require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Version)
	assert.Equal(t, rag.Handle("QmV2"), entries[1].VectorHandle)
}

func TestHistoryCmd_UnknownManual(t *testing.T) {
	t.Setenv("REGISTRY_BACKEND", "sqlite")
	t.Setenv("REGISTRY_DSN", filepath.Join(t.TempDir(), "registry.db"))

	cmd := NewHistoryCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"-m", "nope"})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrManualNotFound)
}

func TestUploadCmd_RejectsFileAndURL(t *testing.T) {
	t.Parallel()
	cmd := NewUploadCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--file", "a.txt", "--url", "http://example.com/a.txt"})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	t.Parallel()
	root := NewRootCmd()
	for _, name := range []string{"upload", "query", "answer", "history", "serve", "version"} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}
