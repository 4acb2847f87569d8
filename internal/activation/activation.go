// Package activation picks up listening sockets handed over by systemd
// socket activation.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Systemd passes descriptors starting after stdin, stdout and stderr
const firstFD = 3

// Socket is an activated listener with its name from LISTEN_FDNAMES
type Socket struct {
	Name string
	net.Listener
}

// Listeners returns the sockets passed to this process. It returns nil when
// the process was not socket activated.
func Listeners() ([]Socket, error) {
	n, err := passedFDs()
	if err != nil || n == 0 {
		return nil, err
	}

	names := strings.Split(os.Getenv("LISTEN_FDNAMES"), ":")
	sockets := make([]Socket, 0, n)
	for i := 0; i < n; i++ {
		fd := firstFD + i
		file := os.NewFile(uintptr(fd), fmt.Sprintf("systemd-socket-%d", i))
		if file == nil {
			closeAll(sockets)
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}
		listener, err := net.FileListener(file)
		// the listener holds its own duplicate of the descriptor
		_ = file.Close()
		if err != nil {
			closeAll(sockets)
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}

		name := "unknown"
		if i < len(names) && names[i] != "" {
			name = names[i]
		}
		sockets = append(sockets, Socket{Name: name, Listener: listener})
	}

	// child processes must not pick the sockets up again
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return sockets, nil
}

// Listen returns the activated socket called name, falling back to the first
// activated socket. Without socket activation it listens on addr over TCP.
// activated reports where the listener came from.
func Listen(name, addr string) (ln net.Listener, activated bool, err error) {
	sockets, err := Listeners()
	if err != nil {
		return nil, false, err
	}
	if len(sockets) == 0 {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, false, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		return ln, false, nil
	}

	chosen := 0
	for i, s := range sockets {
		if s.Name == name {
			chosen = i
			break
		}
	}
	for i, s := range sockets {
		if i != chosen {
			_ = s.Close()
		}
	}
	return sockets[chosen].Listener, true, nil
}

// passedFDs returns the number of descriptors passed to this process
func passedFDs() (int, error) {
	pidStr := os.Getenv("LISTEN_PID")
	if pidStr == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != os.Getpid() {
		return 0, nil
	}

	fdsStr := os.Getenv("LISTEN_FDS")
	if fdsStr == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	return max(n, 0), nil
}

func closeAll(sockets []Socket) {
	for _, s := range sockets {
		_ = s.Close()
	}
}
