package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psmp-io/psmp/pkg/config"
)

func TestOpenStoreBolt(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = config.StorageBackendBolt
	cfg.Storage.DataDir = t.TempDir()

	store, err := openStore(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = "etcd"

	_, err := openStore(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend")
}
