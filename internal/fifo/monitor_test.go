package fifo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpsdr/hpsdrd/internal/hw"
)

func TestDepthForPicksNearestVersionAtOrBelow(t *testing.T) {
	d := DepthFor(16)
	assert.Equal(t, DepthByFirmware[14], d)

	d = DepthFor(20)
	assert.Equal(t, DepthByFirmware[20], d)

	d = DepthFor(25)
	assert.Equal(t, DepthByFirmware[20], d)
}

func TestDepthForBelowLowestFallsBackToLowest(t *testing.T) {
	d := DepthFor(1)
	assert.Equal(t, DepthByFirmware[12], d)
}

func TestMonitorProbeClearsEventFlags(t *testing.T) {
	dma := hw.NewSimDMA(1 << 10)
	bank := hw.NewBank(hw.NewSimRegisters())
	m := New(RXDDC, dma, bank, 1<<10)

	m.NoteOverflow()

	p, err := m.Probe()
	require.NoError(t, err)
	assert.True(t, p.Overflow)

	p, err = m.Probe()
	require.NoError(t, err)
	assert.False(t, p.Overflow, "a second Probe must not re-report the already-cleared event")
}

func TestMonitorProbeComputesFreeForWriteChannels(t *testing.T) {
	dma := hw.NewSimDMA(1 << 10)
	bank := hw.NewBank(hw.NewSimRegisters())
	m := New(Speaker, dma, bank, 100)

	_, err := dma.Write(make([]byte, 80)) // 10 words occupied
	require.NoError(t, err)

	p, err := m.Probe()
	require.NoError(t, err)
	assert.Equal(t, uint32(10), p.Occupied)
	assert.Equal(t, uint32(90), p.Free)
}

func TestMonitorProbeSkipsFreeForReadChannels(t *testing.T) {
	dma := hw.NewSimDMA(1 << 10)
	bank := hw.NewBank(hw.NewSimRegisters())
	m := New(RXDDC, dma, bank, 100)

	p, err := m.Probe()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), p.Free)
}

func TestMonitorResetClearsLatchedEvents(t *testing.T) {
	dma := hw.NewSimDMA(1 << 10)
	bank := hw.NewBank(hw.NewSimRegisters())
	m := New(TXDUC, dma, bank, 100)

	m.NoteOverflow()
	m.NoteUnderflow()

	require.NoError(t, m.Reset(1))

	p, err := m.Probe()
	require.NoError(t, err)
	assert.False(t, p.Overflow)
	assert.False(t, p.Underflow)
}

func TestMonitorReserveReturnsImmediatelyWhenSpaceAvailable(t *testing.T) {
	dma := hw.NewSimDMA(1 << 10)
	bank := hw.NewBank(hw.NewSimRegisters())
	m := New(Speaker, dma, bank, 1000)

	done := make(chan struct{})
	defer close(done)

	start := time.Now()
	p, err := m.Reserve(done, 8)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
	assert.GreaterOrEqual(t, p.Free, uint32(1))
}

func TestMonitorReserveUnblocksOnDone(t *testing.T) {
	dma := hw.NewSimDMA(1 << 10)
	bank := hw.NewBank(hw.NewSimRegisters())
	m := New(Speaker, dma, bank, 1) // depth too small to ever satisfy a big reservation

	_, err := dma.Write(make([]byte, 8))
	require.NoError(t, err)

	done := make(chan struct{})

	go func() {
		time.Sleep(5 * time.Millisecond)
		close(done)
	}()

	start := time.Now()
	_, err = m.Reserve(done, 1<<20)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}
