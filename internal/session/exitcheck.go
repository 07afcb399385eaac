package session

import (
	"context"
	"os"

	"github.com/pkg/term"

	"github.com/hpsdr/hpsdrd/internal/logx"
)

// RunExitChecker reads a single unbuffered keystroke from stdin without
// requiring Enter, using github.com/pkg/term's raw-mode terminal helper —
// the same approach the teacher's serial_port.go/walk96.go use to put a TTY
// into raw mode for byte-at-a-time I/O. Receiving 'x' or 'X' requests
// shutdown (§4.6 "Exit request"). It is a no-op when stdin is not a TTY.
func RunExitChecker(ctx context.Context, s *Supervisor) {
	log := logx.For("session")

	t, err := term.Open("/dev/stdin", term.RawMode)
	if err != nil {
		log.Debugf("exit checker: stdin is not a raw-capable TTY (%v); disabled", err)

		return
	}
	defer t.Restore()
	defer t.Close()

	buf := make([]byte, 1)

	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			n, err := t.Read(buf)
			if err != nil {
				return
			}

			if n == 0 {
				continue
			}

			switch buf[0] {
			case 'x', 'X':
				log.Infof("exit requested from console")
				s.RequestExit()

				return
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
}

// stdinIsTTY is a small helper kept for callers that want to skip spinning
// up the raw-mode reader entirely (e.g. under a test harness with a piped
// stdin).
func stdinIsTTY() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}

	return (fi.Mode() & os.ModeCharDevice) != 0
}
