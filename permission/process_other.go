//go:build !linux

package permission

// hasRadioCapabilities always succeeds: outside Linux the OS Bluetooth service mediates access.
func hasRadioCapabilities() (bool, error) {
	return true, nil
}
