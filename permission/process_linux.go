package permission

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// hasRadioCapabilities reports whether CAP_NET_ADMIN and CAP_NET_RAW are both effective.
func hasRadioCapabilities() (bool, error) {
	if os.Geteuid() == 0 {
		return true, nil
	}

	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData

	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return false, errors.Wrap(err, "capget")
	}

	return effective(data, unix.CAP_NET_ADMIN) && effective(data, unix.CAP_NET_RAW), nil
}

func effective(data [2]unix.CapUserData, c int) bool {
	return data[c/32].Effective&(1<<uint(c%32)) != 0
}
