package inbound

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpsdr/hpsdrd/internal/endpoint"
	"github.com/hpsdr/hpsdrd/internal/hw"
	"github.com/hpsdr/hpsdrd/internal/session"
	"github.com/hpsdr/hpsdrd/internal/wire"
)

func newTestSupervisorForInbound(bank *hw.Bank) *session.Supervisor {
	return session.NewSupervisor(bank, endpoint.NewTable(), &endpoint.ReplyAddr{})
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func TestDDCListenerApplyPairsEvenDDCWithOdd(t *testing.T) {
	transport := hw.NewSimRegisters()
	bank := hw.NewBank(transport)

	var applied bool
	d := NewDDCListener(bank, func(changed bool) { applied = changed })

	pkt := make([]byte, wire.SizeDDCSpecific)
	pkt[7] = 0x01              // DDC0 enabled
	putU32(pkt[17:21], 384000) // DDC0 rate word: enable/source bytes occupy 7..16, rates start at 17
	pkt[1363] = 0x02           // DDC0 sync byte: 0b00000010 triggers "paired with DDC1"

	d.apply(pkt)

	require.True(t, applied)

	word, err := transport.ReadReg(0x1000) // regDDCRateMap
	require.NoError(t, err)

	ddc0 := byte(word & 0xF)
	ddc1 := byte((word >> 4) & 0xF)

	assert.Equal(t, byte(0x1|0x2|(3<<2)), ddc0)
	assert.Equal(t, byte(0x1|(3<<2)), ddc1, "DDC1 force-enabled at DDC0's rate")
}

func TestDDCListenerApplyPairsDDC6WithDDC7UsingItsOwnTrigger(t *testing.T) {
	transport := hw.NewSimRegisters()
	bank := hw.NewBank(transport)

	d := NewDDCListener(bank, nil)

	pkt := make([]byte, wire.SizeDDCSpecific)
	pkt[7+6] = 0x01                     // DDC6 enabled
	putU32(pkt[17+6*4:21+6*4], 192000) // DDC6 rate word
	pkt[1369] = 0x80                    // DDC6 sync byte: 0b10000000 triggers "paired with DDC7"

	d.apply(pkt)

	word, err := transport.ReadReg(0x1000) // regDDCRateMap
	require.NoError(t, err)

	ddc6 := byte((word >> (6 * 4)) & 0xF)
	ddc7 := byte((word >> (7 * 4)) & 0xF)

	assert.Equal(t, byte(0x1|0x2|(2<<2)), ddc6)
	assert.Equal(t, byte(0x1|(2<<2)), ddc7, "DDC7 force-enabled at DDC6's rate")
}

func TestDDCListenerApplyNoChangeSkipsOnApplyTrue(t *testing.T) {
	transport := hw.NewSimRegisters()
	bank := hw.NewBank(transport)

	var calls []bool
	d := NewDDCListener(bank, func(changed bool) { calls = append(calls, changed) })

	pkt := make([]byte, wire.SizeDDCSpecific)
	pkt[7] = 0x01

	d.apply(pkt)
	d.apply(pkt)

	require.Len(t, calls, 2)
	assert.True(t, calls[0])
	assert.False(t, calls[1], "second identical apply should report unchanged")
}

func TestDUCListenerApplyStoresKeyerStateAndWritesIambicWord(t *testing.T) {
	transport := hw.NewSimRegisters()
	bank := hw.NewBank(transport)
	keyer := &KeyerState{}

	d := NewDUCListener(bank, 20, keyer)

	pkt := make([]byte, wire.SizeDUCSpecific)
	pkt[5] = 25 // keyer speed
	pkt[6] = 50 // weight
	pkt[7] = 0x01 | 0x10 // KeyerEnable, Mode

	d.apply(pkt)

	assert.True(t, keyer.Load())

	word, err := transport.ReadReg(0x1024) // regKeyerIambic
	require.NoError(t, err)
	assert.Equal(t, uint32(25)|uint32(50)<<8|1<<18, word)
}

func TestDUCListenerApplyRegeneratesRampOnNonZeroLength(t *testing.T) {
	transport := hw.NewSimRegisters()
	bank := hw.NewBank(transport)
	keyer := &KeyerState{}

	d := NewDUCListener(bank, 20, keyer)

	pkt := make([]byte, wire.SizeDUCSpecific)
	putU16(pkt[15:17], 5) // CWRampUs -> RampLengthMs 5

	d.apply(pkt)

	word, err := transport.ReadReg(0x1028) // regKeyerCW1
	require.NoError(t, err)
	assert.NotEqual(t, uint32(0), word>>24, "length field should be folded into CW1 once the ramp regenerates")
}

func TestHighPriorityListenerApplyWritesDDCFrequenciesAndDrive(t *testing.T) {
	transport := hw.NewSimRegisters()
	bank := hw.NewBank(transport)
	keyer := &KeyerState{}
	cat := &CATPort{}

	h := NewHighPriorityListener(bank, 20, keyer, cat)
	sup := newTestSupervisorForInbound(bank)

	pkt := make([]byte, wire.SizeHighPriorityIn)
	pkt[5] = 0x01 // Run
	putU32(pkt[6:10], 0x11223344) // DDC0 frequency
	putU16(pkt[1428:1430], 0x0000) // no TX antenna bits
	pkt[1432] = 0x02 // legacy filter word

	h.apply(pkt, sup)

	word, err := transport.ReadReg(0x1100) // regDDCFreqBase + 0
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11223344), word)

	legacy, err := transport.ReadReg(0x1018) // regAlexTXFilter
	require.NoError(t, err)
	assert.Equal(t, uint32(0x02), legacy) // no TX antenna bits: the legacy word is used
}

func TestHighPriorityListenerApplyStoresCATPortOnlyWhenNonZero(t *testing.T) {
	transport := hw.NewSimRegisters()
	bank := hw.NewBank(transport)
	keyer := &KeyerState{}
	cat := &CATPort{}

	h := NewHighPriorityListener(bank, 20, keyer, cat)
	sup := newTestSupervisorForInbound(bank)

	pkt := make([]byte, wire.SizeHighPriorityIn)
	h.apply(pkt, sup)
	assert.Equal(t, uint16(0), cat.Load())

	putU16(pkt[51:53], 7356) // CATPort sits right after DUC frequency + drive byte
	h.apply(pkt, sup)
	assert.Equal(t, uint16(7356), cat.Load())
}
