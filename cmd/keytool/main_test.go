package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketledger/internal/crypto"
)

func TestRunGenerateWritesLoadableKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operator.json")
	require.NoError(t, run(path, "", true, "pw"))

	key, err := crypto.LoadKey(crypto.KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Len(t, key, 64)
}

func TestRunArgumentErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operator.json")
	require.ErrorContains(t, run(path, "", true, ""), "MARKETD_OPERATOR_KEY_PASSWORD")
	require.ErrorContains(t, run(path, "", false, "pw"), "required")
	require.ErrorContains(t, run(path, "ab", true, "pw"), "mutually exclusive")
}
