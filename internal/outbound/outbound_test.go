package outbound

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpsdr/hpsdrd/internal/endpoint"
	"github.com/hpsdr/hpsdrd/internal/hw"
	"github.com/hpsdr/hpsdrd/internal/session"
)

func buildDDCFrame(ddc int, sampleWords int, fill byte) []byte {
	blockLen := sampleWords * 6
	header := uint32(ddc) | uint32(sampleWords)<<hw.FirmwareDDCPacketBits

	buf := make([]byte, 4+blockLen)
	binary.BigEndian.PutUint32(buf[0:4], header)

	for i := range buf[4:] {
		buf[4+i] = fill
	}

	return buf
}

func TestRXDDCDemuxRoutesBlockToCorrectQueue(t *testing.T) {
	counter := &SampleCounter{}
	demux := NewRXDDCDemux(hw.NewSimDMA(1<<16), counter)

	chunk := buildDDCFrame(3, 2, 0xAB)
	demux.demux(chunk)

	select {
	case block := <-demux.Queue(3):
		assert.Len(t, block, 12)
		assert.Equal(t, byte(0xAB), block[0])
	default:
		t.Fatal("expected a block on DDC3's queue")
	}

	assert.Equal(t, uint64(2), counter.Load())
}

func TestRXDDCDemuxHandlesMultipleBlocksPerChunk(t *testing.T) {
	counter := &SampleCounter{}
	demux := NewRXDDCDemux(hw.NewSimDMA(1<<16), counter)

	chunk := append(buildDDCFrame(0, 1, 0x11), buildDDCFrame(1, 1, 0x22)...)
	demux.demux(chunk)

	b0 := <-demux.Queue(0)
	b1 := <-demux.Queue(1)

	assert.Equal(t, byte(0x11), b0[0])
	assert.Equal(t, byte(0x22), b1[0])
	assert.Equal(t, uint64(2), counter.Load())
}

func TestRXDDCDemuxDropsShortTrailingBlock(t *testing.T) {
	counter := &SampleCounter{}
	demux := NewRXDDCDemux(hw.NewSimDMA(1<<16), counter)

	chunk := buildDDCFrame(0, 100, 0x01) // header claims far more bytes than present
	demux.demux(chunk[:4])               // only the header survived the read

	assert.Equal(t, uint64(0), counter.Load())
}

func TestRXDDCDemuxDropsOnFullQueue(t *testing.T) {
	counter := &SampleCounter{}
	demux := NewRXDDCDemux(hw.NewSimDMA(1<<16), counter)

	for i := 0; i < 100; i++ {
		demux.demux(buildDDCFrame(0, 1, byte(i)))
	}

	// queue capacity is bounded; the counter still advances for every
	// block even though many are dropped once the queue fills.
	assert.Equal(t, uint64(100), counter.Load())
}

func TestWidebandSenderStartIsIdempotent(t *testing.T) {
	w := NewWidebandSender(0, hw.NewSimDMA(1<<12))
	table := endpoint.NewTable()
	reply := &endpoint.ReplyAddr{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx, table, reply, endpoint.WidebandBase)
	w.Start(ctx, table, reply, endpoint.WidebandBase) // must not spawn a second run loop

	assert.True(t, w.running)

	w.Stop()
	assert.False(t, w.running)

	// Stop when not running must not panic.
	w.Stop()
}

func TestWidebandSenderStopThenStartRestarts(t *testing.T) {
	w := NewWidebandSender(0, hw.NewSimDMA(1<<12))
	table := endpoint.NewTable()
	reply := &endpoint.ReplyAddr{}

	ctx := context.Background()

	w.Start(ctx, table, reply, endpoint.WidebandBase)
	require.True(t, w.running)

	w.Stop()
	require.False(t, w.running)

	w.Start(ctx, table, reply, endpoint.WidebandBase)
	assert.True(t, w.running)

	w.Stop()
}

func TestDDCSenderMarshalsSeqAndSampleCount(t *testing.T) {
	queue := make(chan []byte, 1)
	queue <- make([]byte, 12) // two 6-byte samples

	sender := NewDDCSender(0, queue)
	table := endpoint.NewTable()
	reply := &endpoint.ReplyAddr{}
	reply.Set([]byte{127, 0, 0, 1})

	listener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer listener.Close()
	table.Row(endpoint.DDCIQBase).SetPort(listener.LocalAddr().(*net.UDPAddr).Port)

	bank := hw.NewBank(hw.NewSimRegisters())
	sup := session.NewSupervisor(bank, table, reply)
	sup.OnGeneralPacket([]byte{127, 0, 0, 1}, [20]uint16{}, false)
	sup.OnHighPriority(true, false) // Armed -> Active: the quiescent -> flowing edge

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sender.Run(ctx, table, reply, endpoint.DDCIQBase, sup) }()

	require.NoError(t, listener.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 18+12, n, "18-byte header plus the two queued samples")
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(buf[:4]), "first emitted frame must carry sequence 0")
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(buf[14:18]), "frame must carry the sample count of the queued block")
	assert.Equal(t, uint32(1), sender.seq, "internal counter advances past the emitted value")
}

func TestSampleCounterAdd(t *testing.T) {
	var c SampleCounter
	c.Add(100)
	c.Add(50)

	assert.Equal(t, uint64(150), c.Load())
}
