package logging

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputSplitterRoutesErrorsToStderr(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stderr
	os.Stderr = w

	splitter := &OutputSplitter{}
	n, err := splitter.Write([]byte(`time="now" level=error msg="boom"`))
	os.Stderr = orig
	require.NoError(t, w.Close())
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	captured, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(captured), `msg="boom"`)
}

func TestContextLoggerAccumulatesFields(t *testing.T) {
	var buf bytes.Buffer
	base := New(DefaultConfig())
	base.SetOutput(&buf)

	cl := NewContextLogger(base, map[string]any{"service": "cache"})
	cl = cl.WithField("key", "greeting")
	cl.Info("hit")

	out := buf.String()
	assert.Contains(t, out, "service=cache")
	assert.Contains(t, out, "key=greeting")
	assert.Contains(t, out, "hit")
}

func TestContextLoggerWithContextExtractsCorrelationIDs(t *testing.T) {
	var buf bytes.Buffer
	base := New(DefaultConfig())
	base.SetOutput(&buf)

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	cl := NewContextLogger(base, nil).WithContext(ctx)
	cl.Info("processed")

	assert.Contains(t, buf.String(), "request_id=req-1")
}
