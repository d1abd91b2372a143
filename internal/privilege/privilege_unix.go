//go:build !windows

package privilege

import "os"

// hasRawSocketAccess reports whether the process can open raw sockets.
// Running as root is the common case; CAP_NET_RAW without root would
// also work but checking euid covers how the tool is actually deployed.
func hasRawSocketAccess() bool {
	return os.Geteuid() == 0
}
