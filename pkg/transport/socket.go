package transport

import (
	"net"
	"os"
	"path/filepath"

	"github.com/avsav1n/stackd/pkg/errors"
)

// The application's shared listener is handed to worker processes as an
// inherited file descriptor. Fds 0-2 are the standard streams; the
// first ExtraFiles entry lands on fd 3.
const ListenerFd = 3

// Bind creates the unix socket at path. A stale socket file left behind
// by a crashed writer is removed before binding. The listener does NOT
// unlink the socket when closed: worker processes share the bind point,
// so removal is an explicit lifecycle step (see Remove).
func Bind(path string) (*net.UnixListener, error) {
	if path == "" {
		return nil, errors.NewValidationError("socket path cannot be empty", nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.NewIOError("failed to create socket directory", err).WithContext("path", path)
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, errors.NewIOError("failed to remove stale socket file", err).WithContext("path", path)
		}
	}

	addr := &net.UnixAddr{Name: path, Net: "unix"}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, errors.NewNetworkError("failed to bind unix socket", err).WithContext("path", path)
	}

	// The orchestrator closes its own copy of the listener after
	// handing it to the workers; the socket file must outlive that.
	listener.SetUnlinkOnClose(false)

	// The proxy may run under a different uid than the application.
	if err := os.Chmod(path, 0o666); err != nil {
		listener.Close()
		return nil, errors.NewIOError("failed to set socket permissions", err).WithContext("path", path)
	}

	return listener, nil
}

// ListenerFile duplicates the listener's file descriptor for passing to
// a child process via ExtraFiles.
func ListenerFile(listener *net.UnixListener) (*os.File, error) {
	file, err := listener.File()
	if err != nil {
		return nil, errors.NewInternalError("failed to duplicate listener descriptor", err)
	}
	return file, nil
}

// InheritedListener reconstructs the shared listener from the inherited
// file descriptor inside a worker process.
func InheritedListener() (net.Listener, error) {
	file := os.NewFile(uintptr(ListenerFd), "listener")
	if file == nil {
		return nil, errors.NewInternalError("no inherited listener descriptor", nil)
	}
	defer file.Close()

	listener, err := net.FileListener(file)
	if err != nil {
		return nil, errors.NewInternalError("failed to reconstruct inherited listener", err)
	}
	return listener, nil
}

// Remove deletes the socket file. Called when the writer process exits.
// A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove socket file", err).WithContext("path", path)
	}
	return nil
}
