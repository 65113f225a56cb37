package dcontext

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestWithLoggerRoundTrip(t *testing.T) {
	entry := logrus.NewEntry(logrus.New())
	ctx := WithLogger(context.Background(), entry)

	got := GetLogger(ctx)
	require.NotNil(t, got)
}

func TestGetLoggerFallsBackToDefault(t *testing.T) {
	got := GetLogger(context.Background())
	require.NotNil(t, got)
}

func TestWithBatchIDAttachesField(t *testing.T) {
	ctx := WithBatchID(context.Background(), "batch-1")
	require.Equal(t, "batch-1", ctx.Value(batchIDKey{}))
}

func TestWithRegistryURLRoundTrip(t *testing.T) {
	ctx := WithRegistryURL(context.Background(), "https://registry.example.com")
	require.Equal(t, "https://registry.example.com", GetRegistryURL(ctx))
	require.Equal(t, "", GetRegistryURL(context.Background()))
}
