//go:build !linux

package hw

import "context"

// WatchDevicePresence is a no-op off Linux; go-udev talks to the Linux
// netlink kobject-uevent socket and has no analogue elsewhere. The engine
// itself only ever runs on the Linux single-board computer that carries
// the PCIe FPGA, so this stub exists purely so the module builds and tests
// cleanly on a development workstation.
func WatchDevicePresence(ctx context.Context, devNode string, onLost func()) {}
