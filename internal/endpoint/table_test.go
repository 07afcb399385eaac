package endpoint

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndpointPortFallsBackToDefault(t *testing.T) {
	table := NewTable()
	ep := table.Row(DDCSpecific)

	assert.Equal(t, DefaultPort[DDCSpecific], ep.Port())

	ep.SetPort(9999)
	assert.Equal(t, 9999, ep.Port())
}

func TestEndpointSetPortSignalsChangePort(t *testing.T) {
	ep := &Endpoint{}

	ep.SetPort(5000)

	cmd := ep.ConsumeCmd()
	assert.Equal(t, CmdChangePort, cmd)

	// consuming clears the pending bitmask
	assert.Equal(t, Cmd(0), ep.ConsumeCmd())
}

func TestEndpointActiveToggle(t *testing.T) {
	ep := &Endpoint{}

	assert.False(t, ep.Active())
	ep.SetActive(true)
	assert.True(t, ep.Active())
}

func TestReplyAddrSetGetClear(t *testing.T) {
	var r ReplyAddr

	assert.Nil(t, r.Get())

	r.Set(net.ParseIP("192.168.1.50"))
	assert.Equal(t, net.ParseIP("192.168.1.50"), r.Get())

	r.Clear()
	assert.Nil(t, r.Get())
}

func TestReplyAddrSetCopiesInput(t *testing.T) {
	var r ReplyAddr

	ip := net.ParseIP("10.0.0.1")
	r.Set(ip)

	ip[0] = 255 // mutate the caller's slice after Set

	assert.Equal(t, net.ParseIP("10.0.0.1"), r.Get(), "ReplyAddr must hold its own copy, not alias the caller's IP")
}

func TestTableUDPAddrNilWithoutReply(t *testing.T) {
	table := NewTable()
	var reply ReplyAddr

	assert.Nil(t, table.UDPAddr(&reply, DDCIQBase))
}

func TestTableUDPAddrComposesIPAndPort(t *testing.T) {
	table := NewTable()

	var reply ReplyAddr
	reply.Set(net.ParseIP("172.16.0.2"))

	addr := table.UDPAddr(&reply, HighPriorityOut)
	require := assert.New(t)
	require.NotNil(addr)
	require.Equal(net.ParseIP("172.16.0.2"), addr.IP)
	require.Equal(DefaultPort[HighPriorityOut], addr.Port)
}

func TestDDCIQBaseDefaultPortsAreContiguous(t *testing.T) {
	for i := 0; i < 10; i++ {
		assert.Equal(t, 1035+i, DefaultPort[DDCIQBase+ID(i)])
	}
}
