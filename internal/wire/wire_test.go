package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestClassifyCommand(t *testing.T) {
	tests := []struct {
		name    string
		pktSize int
		cmdByte byte
		wantOK  bool
	}{
		{"discovery-size general", SizeDiscovery, CmdGeneral, true},
		{"discovery-size discovery", SizeDiscovery, CmdDiscovery, true},
		{"wrong size rejected", SizeDiscovery + 1, CmdGeneral, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt := make([]byte, tt.pktSize)
			if tt.pktSize > 4 {
				pkt[4] = tt.cmdByte
			}

			cmd, ok := ClassifyCommand(pkt)
			require.Equal(t, tt.wantOK, ok)

			if ok {
				assert.Equal(t, tt.cmdByte, cmd)
			}
		})
	}
}

func TestDiscoveryReplyMarshal(t *testing.T) {
	reply := DiscoveryReply{
		State:       3,
		MAC:         [6]byte{0x00, 0x1c, 0xc0, 0xa0, 0xb0, 0xc0},
		BoardID:     10,
		ProtoVer:    39,
		FirmwareVer: 20,
		DDCCount:    4,
		PhaseWord:   1,
		Endian:      0,
	}

	buf := reply.Marshal()

	require.Len(t, buf, SizeDiscovery)
	assert.Equal(t, byte(3), buf[4])
	assert.Equal(t, reply.MAC[:], buf[5:11])
	assert.Equal(t, byte(10), buf[11])
	assert.Equal(t, byte(39), buf[12])
	assert.Equal(t, byte(20), buf[13])
	assert.Equal(t, byte(4), buf[20])
}

func TestParseGeneralRoundTripsPorts(t *testing.T) {
	pkt := make([]byte, SizeGeneral)
	pkt[4] = CmdGeneral
	putU16(pkt[5:7], 1025)
	putU16(pkt[7:9], 1026)
	pkt[24] = 0x10 // HWTimerEnable

	g, ok := ParseGeneral(pkt)
	require.True(t, ok)
	assert.Equal(t, uint16(1025), g.Ports[0])
	assert.Equal(t, uint16(1026), g.Ports[1])
	assert.True(t, g.HWTimerEnable)
}

func TestParseGeneralRejectsWrongSize(t *testing.T) {
	_, ok := ParseGeneral(make([]byte, SizeGeneral-1))
	assert.False(t, ok)
}

func TestParseDDCSpecificSyncMap(t *testing.T) {
	pkt := make([]byte, SizeDDCSpecific)
	pkt[4] = 0 // command byte, unused by the parser
	pkt[1363] = 0x02 // DDC0 paired with DDC1

	cfg, ok := ParseDDCSpecific(pkt)
	require.True(t, ok)
	assert.Equal(t, [4]bool{true, false, false, false}, cfg.SyncEven)
}

func TestParseDUCSpecificFlagBits(t *testing.T) {
	pkt := make([]byte, SizeDUCSpecific)
	pkt[5] = 20 // keyer speed
	pkt[6] = 50 // weight
	pkt[7] = 0x01 | 0x10 | 0x80 // KeyerEnable, Mode, BreakIn

	d, ok := ParseDUCSpecific(pkt)
	require.True(t, ok)
	assert.Equal(t, byte(20), d.KeyerSpeed)
	assert.True(t, d.KeyerEnable)
	assert.True(t, d.Mode)
	assert.True(t, d.BreakIn)
	assert.False(t, d.CWEnable)
}

func TestParseHighPriorityInAlexOffsets(t *testing.T) {
	pkt := make([]byte, SizeHighPriorityIn)
	pkt[5] = 0x01 | 0x02 // Run, MOX

	putU16(pkt[1428:1430], 0x0105) // antenna bits 0b001 (bits 8-10) + filter bits 0x05
	pkt[1432] = 0x07               // legacy word
	putU32(pkt[1433:1437], 0xAABBCCDD)

	h, ok := ParseHighPriorityIn(pkt)
	require.True(t, ok)
	assert.True(t, h.Run)
	assert.True(t, h.MOX)
	assert.Equal(t, byte(0x01), h.TXAntennaBits)
	assert.Equal(t, byte(0x07), h.TXFilterLegacy)
	assert.Equal(t, uint32(0xAABBCCDD), h.RXFilterAntenna)
}

func TestSwapIQ24(t *testing.T) {
	payload := []byte{
		1, 2, 3, 4, 5, 6, // one sample: Q=1,2,3 I=4,5,6
	}

	SwapIQ24(payload)

	assert.Equal(t, []byte{4, 5, 6, 1, 2, 3}, payload)
}

func TestSwapIQ24Involution(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "samples")
		payload := rapid.SliceOfN(rapid.Byte(), n*6, n*6).Draw(t, "payload")

		original := append([]byte(nil), payload...)

		SwapIQ24(payload)
		SwapIQ24(payload)

		assert.Equal(t, original, payload)
	})
}

func TestDDCIQFrameMarshalLength(t *testing.T) {
	frame := DDCIQFrame{
		Seq:            1,
		Timestamp:      2,
		BitsPerSample:  24,
		SamplesInFrame: 10,
		IQ:             make([]byte, 60),
	}

	buf := frame.Marshal()
	assert.Len(t, buf, 4+8+2+4+60)
}
