package cat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hpsdr/hpsdrd/internal/inbound"
)

type fakeCWQueue struct {
	got string
}

func (f *fakeCWQueue) QueueCWText(text string) bool {
	f.got = text
	return true
}

func TestDispatchIdentification(t *testing.T) {
	b := NewBridge(&Rig{}, &inbound.CATPort{})

	assert.Equal(t, "ID019;", b.dispatch("ID;"))
}

func TestDispatchKeepalive(t *testing.T) {
	b := NewBridge(&Rig{}, &inbound.CATPort{})

	assert.Equal(t, keepaliveCommand, b.dispatch(keepaliveCommand))
}

func TestDispatchUnknownOpcodeIsSilent(t *testing.T) {
	b := NewBridge(&Rig{}, &inbound.CATPort{})

	assert.Equal(t, "", b.dispatch("ZZ;"))
}

func TestDispatchMemoryKeyerTextQueuesOnAttachedBank(t *testing.T) {
	cw := &fakeCWQueue{}
	b := NewBridge(&Rig{}, &inbound.CATPort{}).WithCWQueue(cw)

	assert.Equal(t, "", b.dispatch("KYCQ CQ DE;"))
	assert.Equal(t, "CQ CQ DE", cw.got)
}

func TestDispatchMemoryKeyerTextWithoutQueueIsNoop(t *testing.T) {
	b := NewBridge(&Rig{}, &inbound.CATPort{})

	assert.Equal(t, "", b.dispatch("KYCQ;"))
}
