// Package inbound implements the per-endpoint inbound UDP stream listeners
// of §4.4: DDC-specific, DUC-specific, high-priority-to-SDR, speaker-audio,
// and DUC-I/Q.
package inbound

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/hpsdr/hpsdrd/internal/endpoint"
	"github.com/hpsdr/hpsdrd/internal/logx"
	"github.com/hpsdr/hpsdrd/internal/session"
)

// KeyerState is shared, lock-free state the DUC-specific listener publishes
// and the high-priority-to-SDR listener reads back; the run-bit handler
// needs the most recently configured keyer-enable flag even though it
// arrives on a different UDP stream (§4.4).
type KeyerState struct {
	enable atomic.Bool
}

func (k *KeyerState) Store(v bool) { k.enable.Store(v) }
func (k *KeyerState) Load() bool   { return k.enable.Load() }

// CATPort is shared state the high-priority-to-SDR listener publishes and
// the CAT bridge reads to learn which TCP port to serve, since the port
// number is only known once a client has sent a high-priority frame
// naming it (§4.4, §4.7).
type CATPort struct {
	port atomic.Uint32
}

func (c *CATPort) Store(v uint16) { c.port.Store(uint32(v)) }
func (c *CATPort) Load() uint16   { return uint16(c.port.Load()) }

// recvTimeout is the short socket-level timeout so every listener polls
// cancellation at >=1kHz, per §5.
const recvTimeout = time.Millisecond

// runLoop binds to the endpoint's current port and repeatedly calls
// handle(payload) for packets of exactly wantSize bytes, silently dropping
// any other length (§7 "Protocol" error kind). It also services
// change-port commands posted to ep between packets.
func runLoop(ctx context.Context, ep *endpoint.Endpoint, wantSize int, sup *session.Supervisor, log *logx.Logger, handle func([]byte)) error {
	conn, err := bind(ep.Port())
	if err != nil {
		return err
	}

	ep.SetActive(true)
	defer ep.SetActive(false)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, wantSize+64)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(recvTimeout))

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if cmd := ep.ConsumeCmd(); cmd&endpoint.CmdChangePort != 0 {
					conn.Close()

					newConn, err := bind(ep.Port())
					if err != nil {
						return err
					}

					conn = newConn
				}

				continue
			}

			log.Errorf("recv error: %v", err)

			return err
		}

		if n != wantSize {
			continue // silently dropped per §7
		}

		sup.NoteInboundActivity()
		handle(buf[:n])
	}
}

func bind(port int) (*net.UDPConn, error) {
	return net.ListenUDP("udp4", &net.UDPAddr{Port: port})
}
