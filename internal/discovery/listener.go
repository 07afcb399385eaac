// Package discovery implements the UDP port-1024 discovery/command
// listener (§4.3).
package discovery

import (
	"context"
	"net"

	"github.com/hpsdr/hpsdrd/internal/config"
	"github.com/hpsdr/hpsdrd/internal/hw"
	"github.com/hpsdr/hpsdrd/internal/logx"
	"github.com/hpsdr/hpsdrd/internal/session"
	"github.com/hpsdr/hpsdrd/internal/wire"
)

const Port = 1024

// Listener owns UDP port 1024: discovery replies and the general packet
// that opens a session (§4.3).
type Listener struct {
	cfg  config.Config
	bank *hw.Bank
	sup  *session.Supervisor
	mac  [6]byte
	log  *logx.Logger
}

func New(cfg config.Config, bank *hw.Bank, sup *session.Supervisor, mac [6]byte) *Listener {
	return &Listener{cfg: cfg, bank: bank, sup: sup, mac: mac, log: logx.For("discovery")}
}

// Run blocks serving discovery/general packets until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: Port})
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 2048)

	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			if isTimeoutOrClosed(err) {
				continue
			}

			return err
		}

		l.handle(conn, addr, append([]byte(nil), buf[:n]...))
	}
}

func isTimeoutOrClosed(err error) bool {
	ne, ok := err.(net.Error)

	return ok && ne.Timeout()
}

func (l *Listener) handle(conn *net.UDPConn, addr *net.UDPAddr, pkt []byte) {
	cmd, ok := wire.ClassifyCommand(pkt)
	if !ok {
		// Wrong length for this port; filters legacy protocol-1 discovery
		// packets from other hardware generations (§4.3).
		return
	}

	switch cmd {
	case wire.CmdGeneral:
		l.handleGeneral(addr, pkt)
	case wire.CmdDiscovery:
		l.handleDiscovery(conn, addr)
	case wire.CmdSetIP, wire.CmdErase, wire.CmdProgram:
		l.log.Infof("unsupported command 0x%02x from %s; ignored", cmd, addr)
	default:
		l.log.Debugf("unrecognized command 0x%02x from %s; ignored", cmd, addr)
	}
}

func (l *Listener) handleGeneral(addr *net.UDPAddr, pkt []byte) {
	g, ok := wire.ParseGeneral(pkt)
	if !ok {
		return
	}

	l.applySettings(g)

	l.sup.OnGeneralPacket(addr.IP, g.Ports, g.HWTimerEnable)
	l.sup.NoteInboundActivity()

	l.log.Infof("general packet from %s: session armed", addr)
}

// applySettings invokes the §4.1 setter for each of the general packet's
// "raft of settings" (§4.3): wideband capture, VITA-49, PPS, frequency-vs-
// phase-word mode, PA/Apollo/Alex enable. Envelope-PWM min/max has no
// register-bank setter of its own in this engine; it is decoded into the
// general packet but nothing reads it, so it is not applied here.
func (l *Listener) applySettings(g wire.GeneralPacket) {
	setters := []struct {
		name string
		on   bool
		fn   func(bool) error
	}{
		{"wideband enable", g.WidebandEnabled, l.bank.SetWidebandEnable},
		{"VITA-49 enable", g.VITA49Enable, l.bank.SetVITA49Enable},
		{"PPS enable", g.PPSEnable, l.bank.SetPPSEnable},
		{"freq/phase-word mode", g.FreqPhaseWordMode, l.bank.SetFreqPhaseWordMode},
		{"PA enable", g.PAEnable, l.bank.SetPAEnable},
		{"Apollo enable", g.ApolloEnable, l.bank.SetApolloEnable},
		{"Alex enable", g.AlexEnable, l.bank.SetAlexEnable},
	}

	for _, s := range setters {
		if err := s.fn(s.on); err != nil {
			l.log.Errorf("apply general packet %s: %v", s.name, err)
		}
	}

	if err := l.bank.SetKeyerEnableBit(false); err != nil {
		l.log.Errorf("apply general packet settings: %v", err)
	}
}

func (l *Listener) handleDiscovery(conn *net.UDPConn, addr *net.UDPAddr) {
	state := byte(2)
	if l.sup.SDRActive() {
		state = 3
	}

	reply := wire.DiscoveryReply{
		State:       state,
		MAC:         l.mac,
		BoardID:     byte(l.cfg.Board),
		ProtoVer:    l.cfg.ProtocolVersion,
		FirmwareVer: byte(l.cfg.FirmwareVersion),
		DDCCount:    4,
		PhaseWord:   1,
		Endian:      0,
	}

	if _, err := conn.WriteToUDP(reply.Marshal(), addr); err != nil {
		l.log.Errorf("discovery reply to %s: %v", addr, err)
	}
}

// LocalMAC returns the MAC address of the named interface (e.g. "eth0"),
// used to fill the discovery reply (§6, §8 scenario 1).
func LocalMAC(ifaceName string) ([6]byte, error) {
	var mac [6]byte

	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return mac, err
	}

	copy(mac[:], iface.HardwareAddr)

	return mac, nil
}
