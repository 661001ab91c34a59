//go:build !windows

package transport

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBind_CreatesSocketFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.sock")

	listener, err := Bind(path)
	require.NoError(t, err)
	defer listener.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.ModeSocket, info.Mode()&os.ModeSocket)
}

func TestBind_RemovesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.sock")

	// Simulate a socket file left behind by a crashed writer
	first, err := Bind(path)
	require.NoError(t, err)
	first.Close()

	_, statErr := os.Stat(path)
	require.NoError(t, statErr, "socket file should survive listener close")

	second, err := Bind(path)
	require.NoError(t, err)
	defer second.Close()
}

func TestBind_EmptyPathRejected(t *testing.T) {
	_, err := Bind("")
	assert.Error(t, err)
}

func TestBind_SocketFileSurvivesListenerClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.sock")

	listener, err := Bind(path)
	require.NoError(t, err)

	// The orchestrator closes its copy after handing the listener to
	// workers; the bind point must stay connectable through the file.
	file, err := ListenerFile(listener)
	require.NoError(t, err)
	defer file.Close()

	listener.Close()

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)

	inherited, err := net.FileListener(file)
	require.NoError(t, err)
	defer inherited.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := inherited.Accept()
		if acceptErr == nil {
			conn.Close()
		}
	}()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	conn.Close()
	<-done
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.sock")

	listener, err := Bind(path)
	require.NoError(t, err)
	listener.Close()

	require.NoError(t, Remove(path))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	// Removing an already-missing socket is not an error
	assert.NoError(t, Remove(path))
}
