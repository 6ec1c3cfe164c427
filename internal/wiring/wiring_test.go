package wiring_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tangerg/ragguard/internal/config"
	"github.com/Tangerg/ragguard/internal/wiring"
)

func TestBuildWiresTheInMemoryDeploymentByDefault(t *testing.T) {
	cfg := config.New(&config.Options{DataDir: t.TempDir()})
	require.NoError(t, cfg.Validate())

	app, err := wiring.Build(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, 0, app.IndexSize())
	assert.True(t, app.ResetIndexSupported(), "the in-memory index must support demo reset")
	assert.NoError(t, app.ResetIndex())

	assert.NotNil(t, app.Pipeline)
	assert.NotNil(t, app.Vault)
	assert.NotNil(t, app.BlastRadius)
}

func TestMalformedQdrantAddressFailsValidateBeforeBuild(t *testing.T) {
	cfg := config.New(&config.Options{
		DataDir:    t.TempDir(),
		QdrantAddr: "not-a-valid-address",
	})
	require.Error(t, cfg.Validate(), "an address without a port should fail Validate before Build is even reached")
}
