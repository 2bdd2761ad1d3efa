package telemetry_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"keepassdb/apperr"
	"keepassdb/telemetry"
)

func TestLogDecodeErrorIsCaptured(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	svc := telemetry.RequireNewForTest(&sink)
	defer svc.Shutdown()

	svc.LogDecodeError(context.Background(), "kdbx4.Open", apperr.Corruption("bad tlv", nil))
	require.Contains(t, sink.String(), "decode failed")
	require.Contains(t, sink.String(), "kdbx4.Open")
	require.Contains(t, sink.String(), "Corruption")
}

func TestLogOpenAndSave(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	svc := telemetry.RequireNewForTest(&sink)
	defer svc.Shutdown()

	svc.LogOpen(context.Background(), "kdbx4", 0)
	svc.LogSave(context.Background(), "kdbx4", 0)

	require.Contains(t, sink.String(), "database opened")
	require.Contains(t, sink.String(), "database saved")
}

func TestWithGroupNestsFields(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	svc := telemetry.RequireNewForTest(&sink).WithGroup("db1")
	svc.Logger.Info("hello", "path", "vault.kdbx")

	require.Contains(t, sink.String(), "db1")
	require.Contains(t, sink.String(), "vault.kdbx")
}
