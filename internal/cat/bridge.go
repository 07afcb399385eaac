// Package cat implements the CAT bridge of the session supervisor's
// companion TCP service: a pair of client threads (command reader, output
// drainer) plus a 15s keepalive, backed by goHamlib rig-control.
package cat

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	hl "github.com/xylo04/goHamlib"

	"github.com/hpsdr/hpsdrd/internal/inbound"
	"github.com/hpsdr/hpsdrd/internal/logx"
)

// keepaliveInterval and keepaliveCommand match the bridge's own
// self-identification frame, re-sent periodically so a client that only
// watches for unsolicited traffic notices the bridge is alive.
const (
	keepaliveInterval = 15 * time.Second
	keepaliveCommand  = "ZZXV;"
)

const acceptPollInterval = 200 * time.Millisecond

// cwQueuer is the subset of *hw.Bank the bridge needs for the "KY;" memory
// keyer command, kept as an interface so tests can supply a stub.
type cwQueuer interface {
	QueueCWText(text string) bool
}

// Bridge serves CAT commands on the port most recently announced in a
// high-priority-to-SDR packet (§4.4, §4.7).
type Bridge struct {
	rig  *Rig
	port *inbound.CATPort
	cw   cwQueuer
	log  *logx.Logger

	outQueue chan string
}

func NewBridge(rig *Rig, port *inbound.CATPort) *Bridge {
	return &Bridge{rig: rig, port: port, log: logx.For("cat"), outQueue: make(chan string, 32)}
}

// WithCWQueue attaches the register bank's CW memory-keyer text queue so
// the bridge's "KY" command (Kenwood-style memory-keyer-text opcode) can
// feed it (SPEC_FULL §3 supplement). Optional: without it, "KY" is a no-op.
func (b *Bridge) WithCWQueue(cw cwQueuer) *Bridge {
	b.cw = cw

	return b
}

// QueueOutput enqueues an unsolicited line (e.g. the keepalive) to be
// written to the connected client, dropping it if the queue is full rather
// than blocking a sender.
func (b *Bridge) QueueOutput(line string) {
	select {
	case b.outQueue <- line:
	default:
		b.log.Warnf("CAT output queue full; dropping %q", strings.TrimSpace(line))
	}
}

// Run waits for a CAT port to be announced, serves one client connection
// at a time, and keeps re-accepting until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		port := b.port.Load()
		if port == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(acceptPollInterval):
			}

			continue
		}

		if err := b.serve(ctx, port); err != nil {
			b.log.Errorf("CAT bridge on port %d: %v", port, err)
		}
	}
}

func (b *Bridge) serve(ctx context.Context, port uint16) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			return err
		}

		b.handleClient(ctx, conn)

		select {
		case <-ctx.Done():
			return nil
		default:
			if b.port.Load() != port {
				return nil // re-announced on a different port; rebind
			}
		}
	}
}

// handleClient runs the reader/writer thread pair for one client until it
// disconnects or ctx is done.
func (b *Bridge) handleClient(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	done := make(chan struct{})

	go func() {
		defer close(done)
		b.readLoop(conn)
	}()

	b.writeLoop(ctx, conn, done)
}

func (b *Bridge) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Split(splitSemicolon)

	for scanner.Scan() {
		line := scanner.Text() + ";"

		reply := b.dispatch(line)
		if reply != "" {
			if _, err := conn.Write([]byte(reply)); err != nil {
				return
			}
		}
	}
}

func (b *Bridge) writeLoop(ctx context.Context, conn net.Conn, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case line := <-b.outQueue:
			if _, err := conn.Write([]byte(line)); err != nil {
				return
			}
		}
	}
}

// splitSemicolon is a bufio.SplitFunc that frames CAT commands on their
// trailing ';', matching the Kenwood-style opcode framing the teacher's
// own hamlib backend speaks.
func splitSemicolon(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, ';'); i >= 0 {
		return i + 1, data[:i], nil
	}

	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}

	return 0, nil, nil
}

// dispatch runs the opcode table against one decoded command (§4.4 "CAT
// bridge"). Unknown opcodes are acknowledged with silence, matching typical
// Kenwood-protocol CAT behaviour.
func (b *Bridge) dispatch(cmd string) string {
	switch {
	case cmd == "ID;":
		return "ID019;" // self-identification, arbitrary rig ID
	case cmd == keepaliveCommand:
		return keepaliveCommand
	case cmd == "FA;":
		freq, err := b.rig.Freq(hl.VfoA)
		if err != nil {
			return ""
		}

		return fmt.Sprintf("FA%011d;", int64(freq))
	case strings.HasPrefix(cmd, "FA") && len(cmd) > 2:
		hz, err := strconv.ParseFloat(strings.TrimSuffix(cmd[2:], ";"), 64)
		if err != nil {
			return ""
		}

		_ = b.rig.SetFreq(hl.VfoA, hz)

		return ""
	case cmd == "TX;":
		_ = b.rig.SetPTT(hl.VfoA, true)

		return ""
	case cmd == "RX;":
		_ = b.rig.SetPTT(hl.VfoA, false)

		return ""
	case strings.HasPrefix(cmd, "KY") && len(cmd) > 2:
		if b.cw != nil {
			b.cw.QueueCWText(strings.TrimSuffix(cmd[2:], ";"))
		}

		return ""
	default:
		return ""
	}
}
