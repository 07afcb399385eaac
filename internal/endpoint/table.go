// Package endpoint holds the fixed, indexed table of UDP stream endpoints
// (§3 "Endpoint table") and the reply-address record captured from the
// general packet.
package endpoint

import (
	"net"
	"sync/atomic"
)

// ID identifies one of the fixed UDP streams known to the protocol.
type ID int

const (
	Command ID = iota
	DDCSpecific
	DUCSpecific
	HighPriorityIn
	Speaker
	DUCIQ

	HighPriorityOut
	Mic
	DDCIQBase // DDCIQBase .. DDCIQBase+9 for the ten DDC I/Q senders
	WidebandBase = DDCIQBase + 10
	// WidebandBase, WidebandBase+1 for the two wideband senders

	count = WidebandBase + 2
)

// Cmd is the asynchronous command bitmask a supervisor can post to an
// endpoint. Only change-port exists today, per §3.
type Cmd uint32

const CmdChangePort Cmd = 1 << 0

// DefaultPort is the fixed default UDP port for each endpoint, per §6.
var DefaultPort = map[ID]int{
	Command:         1024,
	DDCSpecific:     1025,
	DUCSpecific:     1026,
	HighPriorityIn:  1027,
	Speaker:         1028,
	DUCIQ:           1029,
	HighPriorityOut: 1025,
	Mic:             1026,
	WidebandBase:    1027,
	WidebandBase + 1: 1028,
}

func init() {
	for i := 0; i < 10; i++ {
		DefaultPort[DDCIQBase+ID(i)] = 1035 + i
	}
}

// Endpoint is one row of the fixed endpoint table. Port, Active and Cmd are
// touched from multiple goroutines: the owning listener/sender thread reads
// them with acquire semantics at a frame boundary, the supervisor writes
// them with release semantics — atomic storage is sufficient, per §5.
type Endpoint struct {
	id     ID
	port   atomic.Int64 // 0 means "use default"
	active atomic.Bool
	cmd    atomic.Uint32
}

// Table is the process-wide fixed array of endpoints, created at start-up
// and persisting for the process lifetime (§3 Lifecycles).
type Table struct {
	rows [count]Endpoint
}

// NewTable builds a table with every row initialised to its default port.
func NewTable() *Table {
	t := &Table{}
	for i := range t.rows {
		t.rows[i].id = ID(i)
	}

	return t
}

func (t *Table) Row(id ID) *Endpoint { return &t.rows[id] }

// Port returns the bound port for this endpoint, substituting the protocol
// default when the table holds 0 ("use default").
func (e *Endpoint) Port() int {
	if p := e.port.Load(); p != 0 {
		return int(p)
	}

	return DefaultPort[e.id]
}

// SetPort rebinds the endpoint to a new port and signals change-port so the
// owning thread picks it up at its next quiet point.
func (e *Endpoint) SetPort(port int) {
	e.port.Store(int64(port))
	e.cmd.Or(uint32(CmdChangePort))
}

func (e *Endpoint) SetActive(active bool) { e.active.Store(active) }
func (e *Endpoint) Active() bool          { return e.active.Load() }

// ConsumeCmd atomically clears and returns the pending command bitmask.
func (e *Endpoint) ConsumeCmd() Cmd {
	return Cmd(e.cmd.Swap(0))
}

// ReplyAddr is the single process-wide reply IP captured from the general
// packet; the ports live in the endpoint Table. Written by the command listener, read by every outbound
// sender (§3 "Reply address").
type ReplyAddr struct {
	ip atomic.Pointer[net.IP]
}

func (r *ReplyAddr) Set(ip net.IP) {
	cp := append(net.IP(nil), ip...)
	r.ip.Store(&cp)
}

func (r *ReplyAddr) Get() net.IP {
	p := r.ip.Load()
	if p == nil {
		return nil
	}

	return *p
}

func (r *ReplyAddr) Clear() { r.ip.Store(nil) }

// UDPAddr composes the destination (reply-ip, reply-port[endpoint]) for an
// outbound sender.
func (t *Table) UDPAddr(reply *ReplyAddr, id ID) *net.UDPAddr {
	ip := reply.Get()
	if ip == nil {
		return nil
	}

	return &net.UDPAddr{IP: ip, Port: t.Row(id).Port()}
}
