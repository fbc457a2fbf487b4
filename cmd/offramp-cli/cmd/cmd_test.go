package cmd

import (
	"bytes"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "app:\n  env: development\nwallet:\n  keystore_path: " + filepath.Join(dir, "none.json") + "\n  mnemonic: \"" + testMnemonic + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDeriveTreasury(t *testing.T) {
	out, err := run(t, "derive", "--treasury", "--config", writeConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94")
	assert.Contains(t, out, "m/44'/60'/0'/0/0")
}

func TestDeriveIdentifier(t *testing.T) {
	out, err := run(t, "derive", "user-42", "--treasury=false", "--config", writeConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "address: 0x")
	assert.NotContains(t, out, "m/44'/60'/0'/0/0\n")
}

func TestRestart(t *testing.T) {
	httpClient = &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(func() {
		httpmock.DeactivateAndReset()
		httpClient = nil
	})

	httpmock.RegisterResponder(http.MethodPost, "http://offramp.local/api/v1/admin/offramp/tx-1/restart",
		httpmock.NewStringResponder(http.StatusOK, `{"code":0,"msg":"Success","data":{"id":"tx-1","status":"swapping","queued":true}}`))

	out, err := run(t, "restart", "tx-1", "--server", "http://offramp.local")
	require.NoError(t, err)
	assert.Contains(t, out, "已重启")

	httpmock.RegisterResponder(http.MethodPost, "http://offramp.local/api/v1/admin/offramp/tx-2/restart",
		httpmock.NewStringResponder(http.StatusOK, `{"code":30105,"msg":"Transaction cannot be restarted","data":{}}`))
	_, err = run(t, "restart", "tx-2", "--server", "http://offramp.local")
	assert.ErrorContains(t, err, "30105")
}
