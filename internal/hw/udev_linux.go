//go:build linux

package hw

import (
	"context"

	"github.com/jochenvg/go-udev"

	"github.com/hpsdr/hpsdrd/internal/logx"
)

// WatchDevicePresence watches the FPGA's register-window character device
// for removal/reappearance, generalizing the teacher's cgo libudev
// USB-audio hot-plug handling in cm108.go to the PCIe character devices
// this system actually depends on (SPEC_FULL §4.1).
//
// onLost is invoked (at most once per disappearance) if the device node
// vanishes while the session may be active; the caller is expected to
// treat that as a fatal ThreadError per §7.
func WatchDevicePresence(ctx context.Context, devNode string, onLost func()) {
	log := logx.For("udev")

	u := udev.Udev{}

	mon := u.NewMonitorFromNetlink("udev")
	if mon == nil {
		log.Warnf("udev monitor unavailable; device hot-plug watch disabled for %s", devNode)

		return
	}

	if err := mon.FilterAddMatchSubsystem("xdma"); err != nil {
		log.Warnf("udev filter setup failed: %v", err)
	}

	deviceCh, _, err := mon.DeviceChan(ctx)
	if err != nil {
		log.Warnf("udev monitor start failed: %v", err)

		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case dev, ok := <-deviceCh:
				if !ok {
					return
				}

				if dev.Syspath() == "" {
					continue
				}

				if dev.Action() == "remove" && dev.Devnode() == devNode {
					log.Errorf("register-window device %s disappeared", devNode)
					onLost()
				}
			}
		}
	}()
}
