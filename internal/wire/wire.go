// Package wire implements the on-the-wire framing for "protocol 2" HPSDR
// packets (§6 "Packet framing"). Legacy "protocol 1" framing is not
// implemented; ClassifyCommand only filters such packets out by size.
//
// All multi-byte fields on the wire are big-endian, and several fields
// straddle odd offsets, so — per the teacher's caution in §9 about
// pointer-arithmetic over aligned C structs — every field is read and
// written through explicit byte-level accessors rather than an unaligned
// cast over a Go struct laid on top of the buffer.
package wire

import "encoding/binary"

// Fixed packet sizes per endpoint (§6).
const (
	SizeDiscovery         = 60
	SizeGeneral           = 60
	SizeDDCSpecific       = 1444
	SizeDUCSpecific       = 60
	SizeHighPriorityIn    = 1444
	SizeSpeakerAudio      = 260
	SizeDUCIQ             = 1444
	SizeHighPriorityOut   = 60
	SizeMic               = 132
	SizeDDCIQOut          = 1444
	NumDDC                = 10
)

func u16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func u32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func putU16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func putU32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

// ClassifyCommand port. The command byte lives at offset 4 on port 1024;
// only 60-byte packets are processed there, which filters legacy
// protocol-1 discovery packets from other hardware generations (§4.3).
func ClassifyCommand(pkt []byte) (cmd byte, ok bool) {
	if len(pkt) != SizeDiscovery {
		return 0, false
	}

	return pkt[4], true
}

// Command bytes recognised on port 1024.
const (
	CmdGeneral   = 0x00
	CmdDiscovery = 0x02
	CmdSetIP     = 0x03
	CmdErase     = 0x04
	CmdProgram   = 0x05
)

// DiscoveryReply formats the 60-byte discovery response (§6).
type DiscoveryReply struct {
	State       byte // 2 idle, 3 active
	MAC         [6]byte
	BoardID     byte // 10 Saturn, 5 Orion Mk 2
	ProtoVer    byte // 39 = v3.8
	FirmwareVer byte
	DDCCount    byte
	PhaseWord   byte // 1
	Endian      byte // 0
}

func (d DiscoveryReply) Marshal() []byte {
	buf := make([]byte, SizeDiscovery)
	// bytes 0-3 sequence are always zero for a discovery reply.
	buf[4] = d.State
	copy(buf[5:11], d.MAC[:])
	buf[11] = d.BoardID
	buf[12] = d.ProtoVer
	buf[13] = d.FirmwareVer
	// bytes 14-19 legacy device versions, all zero.
	buf[20] = d.DDCCount
	buf[21] = d.PhaseWord
	buf[22] = d.Endian
	// bytes 23-59 padding, left zero.
	return buf
}

// GeneralPacket is the parsed content of the command-byte-0x00 "general
// packet" that opens a session (§4.3). Only the fields this engine acts on
// are modeled; unrecognized settings are ignored the same way the teacher
// logs-and-ignores unsupported port-1024 commands.
type GeneralPacket struct {
	Ports [20]uint16 // Ports[0..8] hold the nine port words of bytes 5-22 in packet order, applied to endpoint.ID(i); the rest stay zero

	WidebandEnabled   bool
	EnvelopePWMMin    uint16
	EnvelopePWMMax    uint16
	VITA49Enable      bool
	PPSEnable         bool
	FreqPhaseWordMode bool
	PAEnable          bool
	ApolloEnable      bool
	AlexEnable        bool
	HWTimerEnable     bool // hardware-timer-enable bit read by the activity watchdog
}

// ParseGeneral decodes a 60-byte general packet. Offsets follow the public
// protocol-2 "general packet" layout: byte 4 is the command (0x00), bytes
// 5-22 carry the port table (9 x uint16 big-endian), trailing bytes carry
// the settings bits this engine cares about.
func ParseGeneral(pkt []byte) (GeneralPacket, bool) {
	if len(pkt) != SizeGeneral {
		return GeneralPacket{}, false
	}

	var g GeneralPacket
	off := 5
	for i := 0; i < 9 && off+2 <= len(pkt); i++ {
		g.Ports[i] = u16(pkt[off : off+2])
		off += 2
	}

	if len(pkt) > 23 {
		g.PAEnable = pkt[23]&0x01 != 0
		g.ApolloEnable = pkt[23]&0x02 != 0
		g.AlexEnable = pkt[23]&0x04 != 0
	}

	if len(pkt) > 24 {
		g.WidebandEnabled = pkt[24]&0x01 != 0
		g.VITA49Enable = pkt[24]&0x02 != 0
		g.PPSEnable = pkt[24]&0x04 != 0
		g.FreqPhaseWordMode = pkt[24]&0x08 != 0
		g.HWTimerEnable = pkt[24]&0x10 != 0
	}

	if len(pkt) >= 29 {
		g.EnvelopePWMMin = u16(pkt[25:27])
		g.EnvelopePWMMax = u16(pkt[27:29])
	}

	return g, true
}

// DDCConfig is the decoded content of one DDC-specific message (§4.4).
type DDCConfig struct {
	NumADC     byte
	DitherADC  [2]bool
	RandomADC  [2]bool
	Enable     [NumDDC]bool
	ADCSource  [NumDDC]byte
	RateWord   [NumDDC]uint32
	SampleSize [NumDDC]byte
	// SyncEven[k] is true when DDC 2k is programmed to interleave with
	// DDC 2k+1, decoded from its own one-byte synchronisation field (only
	// the first four even DDCs carry one: DDC0/2/4/6).
	SyncEven [4]bool
}

// ddcSyncOffsets and ddcSyncTriggers give each of the four even-DDC
// synchronisation bytes its own offset and trigger value, matching
// IncomingDDCSpecific.c: DDC0's byte is at 1363 and reads 0b00000010 when
// synced to DDC1, DDC2's byte is at 1365 and reads 0b00001000, DDC4's byte
// is at 1367 and reads 0b00100000, DDC6's byte is at 1369 and reads
// 0b10000000. These are NOT four bits of one shared word: each byte is
// compared against its own distinct trigger value.
var (
	ddcSyncOffsets = [4]int{1363, 1365, 1367, 1369}
	ddcSyncTrigger = [4]byte{0b00000010, 0b00001000, 0b00100000, 0b10000000}
)

// ParseDDCSpecific decodes a 1444-byte DDC-specific packet. Layout follows
// the protocol-2 reference: byte 4 command, byte 5 ADC count, then per-ADC
// dither/random bits, then per-DDC enable/source/rate/size fields, then the
// four even-DDC synchronisation bytes at offsets 1363/1365/1367/1369 (§8
// scenario 5).
func ParseDDCSpecific(pkt []byte) (DDCConfig, bool) {
	if len(pkt) != SizeDDCSpecific {
		return DDCConfig{}, false
	}

	var c DDCConfig
	c.NumADC = pkt[5]
	c.DitherADC[0] = pkt[6]&0x01 != 0
	c.DitherADC[1] = pkt[6]&0x02 != 0
	c.RandomADC[0] = pkt[6]&0x04 != 0
	c.RandomADC[1] = pkt[6]&0x08 != 0

	off := 7
	for i := 0; i < NumDDC; i++ {
		c.Enable[i] = pkt[off]&0x01 != 0
		c.ADCSource[i] = (pkt[off] >> 1) & 0x03
		off++
	}

	for i := 0; i < NumDDC; i++ {
		c.RateWord[i] = u32(pkt[off : off+4])
		off += 4
	}

	for i := 0; i < NumDDC; i++ {
		c.SampleSize[i] = pkt[off]
		off++
	}

	for k, o := range ddcSyncOffsets {
		if o < len(pkt) {
			c.SyncEven[k] = pkt[o] == ddcSyncTrigger[k]
		}
	}

	return c, true
}

// DUCConfig is the decoded content of a DUC-specific message (§3, §4.4).
type DUCConfig struct {
	KeyerSpeed     byte
	KeyerWeight    byte
	KeyerEnable    bool
	CWEnable       bool
	BreakIn        bool
	SidetoneEnable bool
	ReversedPaddle bool
	StrictSpacing  bool
	Mode           bool // iambic mode A/B

	SidetoneVolume byte
	SidetoneFreq   uint16
	CWPTTDelayMs   uint16
	CWHangMs       uint16
	CWRampUs       uint16

	MicOptions byte
	LineInGain byte
	RXAttenTX  [2]byte // RX1/RX2 ADC attenuators applicable during TX
}

// ParseDUCSpecific decodes a 60-byte DUC-specific packet. See the Open
// Questions in spec.md §9: bit 7 of the flags byte is read out as both
// BreakIn here and as CWX's last bool argument to the keyer setter in
// internal/hw — that ambiguity is preserved rather than silently resolved
// (see DESIGN.md).
func ParseDUCSpecific(pkt []byte) (DUCConfig, bool) {
	if len(pkt) != SizeDUCSpecific {
		return DUCConfig{}, false
	}

	var d DUCConfig
	d.KeyerSpeed = pkt[5]
	d.KeyerWeight = pkt[6]

	flags := pkt[7]
	d.KeyerEnable = flags&0x01 != 0
	d.CWEnable = flags&0x02 != 0
	d.ReversedPaddle = flags&0x04 != 0
	d.StrictSpacing = flags&0x08 != 0
	d.Mode = flags&0x10 != 0
	d.SidetoneEnable = flags&0x20 != 0
	d.BreakIn = flags&0x80 != 0

	d.SidetoneVolume = pkt[8]
	d.SidetoneFreq = u16(pkt[9:11])
	d.CWPTTDelayMs = u16(pkt[11:13])
	d.CWHangMs = u16(pkt[13:15])
	d.CWRampUs = u16(pkt[15:17])
	d.MicOptions = pkt[17]
	d.LineInGain = pkt[18]
	d.RXAttenTX[0] = pkt[19]
	d.RXAttenTX[1] = pkt[20]

	return d, true
}

// HighPriorityIn is the decoded content of the high-priority-to-SDR packet
// (§4.4).
type HighPriorityIn struct {
	Run  bool
	MOX  bool
	DDCFreq [NumDDC]uint32
	DUCFreq uint32
	DUCDrive byte

	CATPort uint16

	Transverter    bool
	SpeakerMute    bool
	OpenCollector  byte
	UserOutput     byte

	TXFilterAntennaNew uint16 // new register, FW>=12
	TXFilterLegacy     byte
	TXAntennaBits      byte // TX antenna selection, bits 8-10 of TXFilterAntennaNew; zero means no TX antenna bit is set
	RXFilterAntenna    uint32 // low 16 = RX1, high 16 = RX2

	RXAttenTX [2]byte

	CWXDit    bool
	CWXDah    bool
	CWXEnable bool
}

// ParseHighPriorityIn decodes the 1444-byte high-priority-to-SDR packet.
// Offsets for the Alex TX filter/antenna fields follow spec.md §8 scenario
// 6 exactly: legacy TX filter/antenna word at 1432, new TX filter/antenna
// word at 1428 from firmware 12 onward.
func ParseHighPriorityIn(pkt []byte) (HighPriorityIn, bool) {
	if len(pkt) != SizeHighPriorityIn {
		return HighPriorityIn{}, false
	}

	var h HighPriorityIn
	h.Run = pkt[5]&0x01 != 0
	h.MOX = pkt[5]&0x02 != 0

	off := 6
	for i := 0; i < NumDDC; i++ {
		h.DDCFreq[i] = u32(pkt[off : off+4])
		off += 4
	}

	h.DUCFreq = u32(pkt[off : off+4])
	off += 4
	h.DUCDrive = pkt[off]
	off++

	h.CATPort = u16(pkt[off : off+2])
	off += 2

	flags := pkt[off]
	h.Transverter = flags&0x01 != 0
	h.SpeakerMute = flags&0x02 != 0
	off++
	h.OpenCollector = pkt[off]
	off++
	h.UserOutput = pkt[off]
	off++

	h.TXFilterAntennaNew = u16(pkt[1428:1430])
	h.TXAntennaBits = byte((h.TXFilterAntennaNew >> 8) & 0x07)
	h.TXFilterLegacy = pkt[1432]
	h.RXFilterAntenna = u32(pkt[1433:1437])

	h.RXAttenTX[0] = pkt[1437]
	h.RXAttenTX[1] = pkt[1438]

	cwx := pkt[1439]
	h.CWXDit = cwx&0x01 != 0
	h.CWXDah = cwx&0x02 != 0
	h.CWXEnable = cwx&0x04 != 0

	return h, true
}

// HighPriorityOut is the content of the 60-byte high-priority-from-SDR
// status packet (§4.5), sent at ~20 Hz.
type HighPriorityOut struct {
	Seq         uint32
	PTT, Key    bool
	PLLLock     bool
	UserIO      byte
	ADCOverflow byte
	Analog      [6]uint16 // exciter, fwd, rev power; supply V; 2 aux
}

func (h HighPriorityOut) Marshal() []byte {
	buf := make([]byte, SizeHighPriorityOut)
	putU32(buf[0:4], h.Seq)

	var bits byte
	if h.PTT {
		bits |= 0x01
	}

	if h.Key {
		bits |= 0x02
	}

	if h.PLLLock {
		bits |= 0x04
	}

	bits |= h.UserIO << 3
	buf[4] = bits
	buf[5] = h.ADCOverflow

	off := 6
	for i := range h.Analog {
		putU16(buf[off:off+2], h.Analog[i])
		off += 2
	}

	return buf
}

// DDCIQFrame formats one outbound DDC I/Q packet (§4.5).
type DDCIQFrame struct {
	Seq            uint32
	Timestamp      uint64
	BitsPerSample  uint16
	SamplesInFrame uint32
	IQ             []byte // tightly packed samples, already in wire order
}

func (f DDCIQFrame) Marshal() []byte {
	header := 4 + 8 + 2 + 4
	buf := make([]byte, header+len(f.IQ))
	putU32(buf[0:4], f.Seq)
	binary.BigEndian.PutUint64(buf[4:12], f.Timestamp)
	putU16(buf[12:14], f.BitsPerSample)
	putU32(buf[14:18], f.SamplesInFrame)
	copy(buf[18:], f.IQ)

	return buf
}

// SwapIQ24 swaps the I and Q 24-bit halves of each 6-byte sample in place.
// The DUC-I/Q wire payload is Q-then-I but the hardware expects I-then-Q
// (§4.4 "DUC-I/Q listener").
func SwapIQ24(payload []byte) {
	for off := 0; off+6 <= len(payload); off += 6 {
		var tmp [3]byte
		copy(tmp[:], payload[off:off+3])
		copy(payload[off:off+3], payload[off+3:off+6])
		copy(payload[off+3:off+6], tmp[:])
	}
}
