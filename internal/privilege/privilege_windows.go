//go:build windows

package privilege

// hasRawSocketAccess always reports false on Windows. Raw TCP sends are
// blocked by the platform regardless of administrator rights, so probes
// that need them are not offered here.
func hasRawSocketAccess() bool {
	return false
}
