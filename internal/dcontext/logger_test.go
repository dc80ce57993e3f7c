package dcontext

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestGetLoggerFallsBackToDefault(t *testing.T) {
	ctx := Background()
	require.NotNil(t, GetLogger(ctx))
}

func TestWithLoggerOverridesContext(t *testing.T) {
	var buf bytes.Buffer
	custom := logrus.New()
	custom.Out = &buf
	entry := custom.WithField("component", "test")

	ctx := WithLogger(Background(), entry)
	GetLogger(ctx).Info("hello")

	require.Contains(t, buf.String(), "hello")
	require.Contains(t, buf.String(), "component=test")
}
