package progress

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture redirects os.Stdout for the duration of fn and returns what it wrote.
func capture(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	require.NoError(t, w.Close())
	os.Stdout = old

	var buf bytes.Buffer
	_, err = io.Copy(&buf, r)
	require.NoError(t, err)
	return buf.String()
}

func TestTotalSteps(t *testing.T) {
	assert.Equal(t, 4, New(true).totalSteps())
	assert.Equal(t, 3, New(false).totalSteps())
}

func TestShowSetupStep(t *testing.T) {
	out := capture(t, func() {
		New(true).Show(StepSetup, 0, "")
	})
	assert.Contains(t, out, "[1/4]")
	assert.Contains(t, out, "Initializing")
}

func TestShowReadyAll(t *testing.T) {
	out := capture(t, func() {
		New(true).Show(StepReady, ReadyAll, "127.0.0.1:2277")
	})
	assert.Contains(t, out, "[4/4]")
	assert.Contains(t, out, "Indexer enabled")
	assert.Contains(t, out, "127.0.0.1:2277")
}

func TestShowReadyServerOnly(t *testing.T) {
	out := capture(t, func() {
		New(false).Show(StepReady, ReadyServer, "127.0.0.1:2277")
	})
	assert.Contains(t, out, "[3/3]")
	assert.Contains(t, out, "Indexer disabled")
	assert.Contains(t, out, "127.0.0.1:2277")
}

func TestShowReadyIndexerOnly(t *testing.T) {
	out := capture(t, func() {
		New(true).Show(StepReady, ReadyIndexer, "")
	})
	assert.Contains(t, out, "Indexer enabled")
	assert.Contains(t, out, "Server disabled")
}
