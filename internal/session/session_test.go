package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpsdr/hpsdrd/internal/endpoint"
	"github.com/hpsdr/hpsdrd/internal/hw"
)

func newTestSupervisor() *Supervisor {
	bank := hw.NewBank(hw.NewSimRegisters())
	table := endpoint.NewTable()
	reply := &endpoint.ReplyAddr{}

	return NewSupervisor(bank, table, reply)
}

func TestSupervisorIdleToArmedOnGeneralPacket(t *testing.T) {
	s := newTestSupervisor()

	s.OnGeneralPacket([]byte{192, 168, 1, 10}, [20]uint16{}, false)

	assert.Equal(t, Armed, s.State())
	assert.False(t, s.SDRActive())
}

func TestSupervisorArmedToActiveOnRunBit(t *testing.T) {
	s := newTestSupervisor()

	s.OnGeneralPacket([]byte{192, 168, 1, 10}, [20]uint16{}, false)
	s.OnHighPriority(true, false)

	assert.Equal(t, Active, s.State())
	assert.True(t, s.SDRActive())
}

func TestSupervisorActiveToDrainingThenIdleOnRunBitClear(t *testing.T) {
	s := newTestSupervisor()

	s.OnGeneralPacket([]byte{192, 168, 1, 10}, [20]uint16{}, false)
	s.OnHighPriority(true, false)
	require.Equal(t, Active, s.State())

	s.OnHighPriority(false, false)

	assert.Equal(t, Idle, s.State(), "draining collapses to idle immediately (§4.6 state table row 4)")
	assert.False(t, s.SDRActive())
}

func TestSupervisorRunBitWithoutGeneralPacketStaysIdle(t *testing.T) {
	s := newTestSupervisor()

	s.OnHighPriority(true, false)

	assert.Equal(t, Idle, s.State(), "activation requires both the reply address and the start bit")
}

func TestSupervisorGeneralPacketThenRunAlreadyLatchedActivatesImmediately(t *testing.T) {
	s := newTestSupervisor()

	s.OnHighPriority(true, false) // start bit latched before the reply address arrives
	s.OnGeneralPacket([]byte{10, 0, 0, 1}, [20]uint16{}, false)

	assert.Equal(t, Active, s.State())
}

func TestSupervisorWatchdogDrainsOnInactivityWhenHWTimerEnabled(t *testing.T) {
	s := newTestSupervisor()

	s.OnGeneralPacket([]byte{10, 0, 0, 1}, [20]uint16{}, true)
	s.OnHighPriority(true, false)
	require.Equal(t, Active, s.State())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.RunWatchdog(ctx)

	// no NoteInboundActivity call arrives within the 1s tick, so the
	// watchdog must force a drain.
	require.Eventually(t, func() bool {
		return s.State() == Idle
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSupervisorWatchdogSparesActivityWithHWTimerDisabled(t *testing.T) {
	s := newTestSupervisor()

	s.OnGeneralPacket([]byte{10, 0, 0, 1}, [20]uint16{}, false)
	s.OnHighPriority(true, false)
	require.Equal(t, Active, s.State())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.RunWatchdog(ctx)

	time.Sleep(1200 * time.Millisecond)

	assert.Equal(t, Active, s.State(), "without the hardware-timer-enable bit the watchdog must not force a drain")
}

func TestSupervisorRequestExitIsIdempotent(t *testing.T) {
	s := newTestSupervisor()

	s.RequestExit()
	s.RequestExit() // must not panic on double-close

	select {
	case <-s.ExitRequested():
	default:
		t.Fatal("ExitRequested channel should be closed")
	}
}

func TestSupervisorFIFOOverflowBitsAccumulate(t *testing.T) {
	s := newTestSupervisor()

	s.SetFIFOOverflowBit(1)
	s.SetFIFOOverflowBit(2)

	assert.Equal(t, uint32(3), s.GlobalFIFOOverflows())
}
