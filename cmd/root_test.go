package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagsOverrideConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	require.NoError(t, rootCmd.ParseFlags([]string{"--azure-endpoint", "http://127.0.0.1:10000/%s", "--workers", "3"}))
	t.Cleanup(func() {
		rootCmd.Flags().Set("azure-endpoint", "")
		rootCmd.Flags().Set("workers", "1")
	})

	cfg, err := loadConfig(rootCmd)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:10000/%s", cfg.AzureEndpoint)
	assert.Equal(t, 3, cfg.Workers)
}

func TestEveryConfigFlagExists(t *testing.T) {
	for key, name := range flagKeys {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "flag for %s", key)
	}
}
