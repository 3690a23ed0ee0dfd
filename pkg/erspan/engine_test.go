package erspan_test

import (
	"encoding/binary"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/m-mizutani/erspanx/pkg/erspan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type sentDatagram struct {
	fd   int
	to   unix.Sockaddr
	data []byte
}

// dummySocket records every call and replays queued send results per fd.
type dummySocket struct {
	nextFD  int
	opened  []int
	closed  []int
	sent    []sentDatagram
	results map[int][]sendResult
	calls   map[int]int
}

type sendResult struct {
	short int
	err   error
}

func newDummySocket() *dummySocket {
	return &dummySocket{
		nextFD:  100,
		results: map[int][]sendResult{},
		calls:   map[int]int{},
	}
}

func (x *dummySocket) Open(family int) (int, error) {
	fd := x.nextFD
	x.nextFD++
	x.opened = append(x.opened, fd)
	return fd, nil
}

func (x *dummySocket) BindToDevice(fd int, device string) error { return nil }
func (x *dummySocket) SetPMTUDisc(fd, family int, m erspan.PMTUDisc) error { return nil }

func (x *dummySocket) Sendto(fd int, p []byte, to unix.Sockaddr) (int, error) {
	x.calls[fd]++
	if queue := x.results[fd]; len(queue) > 0 {
		r := queue[0]
		x.results[fd] = queue[1:]
		if r.err != nil {
			return 0, r.err
		}
		if r.short > 0 {
			return len(p) - r.short, nil
		}
	}

	x.sent = append(x.sent, sentDatagram{fd: fd, to: to, data: append([]byte{}, p...)})
	return len(p), nil
}

func (x *dummySocket) Close(fd int) error {
	x.closed = append(x.closed, fd)
	return nil
}

func (x *dummySocket) sentTo(fd int) [][]byte {
	var out [][]byte
	for _, s := range x.sent {
		if s.fd == fd {
			out = append(out, s.data)
		}
	}
	return out
}

// dummyResolver accepts IPv4 literals only.
func dummyResolver(endpoint string) (unix.Sockaddr, int, error) {
	ip := net.ParseIP(endpoint).To4()
	if ip == nil {
		return nil, 0, fmt.Errorf("cannot resolve %s", endpoint)
	}
	sa := &unix.SockaddrInet4{}
	copy(sa.Addr[:], ip)
	return sa, unix.AF_INET, nil
}

type dummyRecorder struct {
	datagrams [][]byte
	dsts      []net.IP
	closed    bool
}

func (x *dummyRecorder) Record(ts time.Time, dst net.IP, datagram []byte) error {
	x.datagrams = append(x.datagrams, append([]byte{}, datagram...))
	x.dsts = append(x.dsts, dst)
	return nil
}

func (x *dummyRecorder) Close() error {
	x.closed = true
	return nil
}

type dummyClock struct {
	now time.Time
}

func (x *dummyClock) Now() time.Time { return x.now }

func newTestEngine(sock *dummySocket, clock *dummyClock) *erspan.Engine {
	args := erspan.Arguments{
		Sockets:       sock,
		Resolve:       dummyResolver,
		RetryInterval: time.Microsecond,
	}
	if clock != nil {
		args.Now = clock.Now
	}
	return erspan.New(args)
}

func frameInfo(frame []byte) gopacket.CaptureInfo {
	return gopacket.CaptureInfo{
		Timestamp:     time.Unix(1700000000, 0),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
}

func TestEngineExportExample(t *testing.T) {
	sock := newDummySocket()
	engine := newTestEngine(sock, nil)

	require.NoError(t, engine.Initialize([]byte(sampleDocument)))
	require.Equal(t, 1, erspan.EngineDestinationCount(engine))
	fd := erspan.EngineDestinationFD(engine, 0)
	assert.NotEqual(t, -1, fd)

	frame := make([]byte, 64)
	for i := range frame {
		frame[i] = byte(i)
	}
	require.NoError(t, engine.Export(frameInfo(frame), frame))

	sent := sock.sentTo(fd)
	require.Len(t, sent, 1)
	datagram := sent[0]
	require.Len(t, datagram, 84)

	hdr, err := erspan.ParseHeader(datagram)
	require.NoError(t, err)
	assert.Equal(t, uint16(1020), hdr.SpanID)
	assert.Equal(t, uint32(10001), hdr.Sequence)
	assert.Equal(t, uint16(0x1000), hdr.GREFlags)
	assert.Equal(t, uint16(0x22eb), hdr.GREProtocol)
	assert.Equal(t, frame, datagram[20:])

	assert.Equal(t, [4]byte{10, 1, 1, 37}, sock.sent[0].to.(*unix.SockaddrInet4).Addr)

	require.NoError(t, engine.Terminate())
	assert.Equal(t, []int{fd}, sock.closed)
}

func TestEngineSequenceLaw(t *testing.T) {
	sock := newDummySocket()
	engine := newTestEngine(sock, nil)

	settings, err := erspan.ResolveParams(map[string]interface{}{
		"remoteips":       []interface{}{"192.0.2.1", "192.0.2.2"},
		"enable_sequence": true,
		"sequence_begin":  0xfffffffe,
	})
	require.NoError(t, err)
	require.NoError(t, engine.Setup(settings))

	frame := []byte{0xde, 0xad, 0xbe, 0xef}
	const n = 5
	for i := 0; i < n; i++ {
		require.NoError(t, engine.Export(frameInfo(frame), frame))
	}

	for i := 0; i < 2; i++ {
		sent := sock.sentTo(erspan.EngineDestinationFD(engine, i))
		require.Len(t, sent, n)
		for j, datagram := range sent {
			expected := uint32(0xfffffffe) + uint32(j+1)
			assert.Equal(t, expected, binary.BigEndian.Uint32(datagram[4:8]))
		}
	}

	// every destination header copy stays identical
	assert.Equal(t, erspan.EngineDestinationHeader(engine, 0), erspan.EngineDestinationHeader(engine, 1))
}

func TestEngineSequenceDisabled(t *testing.T) {
	sock := newDummySocket()
	engine := newTestEngine(sock, nil)

	settings, err := erspan.ResolveParams(map[string]interface{}{
		"remoteips":      []interface{}{"192.0.2.1"},
		"sequence_begin": 500,
		"enable_spanid":  true,
		"spanid":         3,
	})
	require.NoError(t, err)
	require.False(t, settings.NeedHeaderUpdate)
	require.NoError(t, engine.Setup(settings))

	frame := []byte{1, 2, 3}
	for i := 0; i < 3; i++ {
		require.NoError(t, engine.Export(frameInfo(frame), frame))
	}
	for _, datagram := range sock.sent {
		assert.Equal(t, uint32(0), binary.BigEndian.Uint32(datagram.data[4:8]))
	}
}

func TestEngineTimestamp(t *testing.T) {
	sock := newDummySocket()
	clock := &dummyClock{now: time.Unix(1700000000, 0)}
	engine := newTestEngine(sock, clock)

	settings, err := erspan.ResolveParams(map[string]interface{}{
		"remoteips":        []interface{}{"192.0.2.1"},
		"enable_timestamp": true,
	})
	require.NoError(t, err)
	require.NoError(t, engine.Setup(settings))

	frame := []byte{1}
	clock.now = clock.now.Add(1500 * time.Millisecond)
	require.NoError(t, engine.Export(frameInfo(frame), frame))
	clock.now = clock.now.Add(250 * time.Microsecond)
	require.NoError(t, engine.Export(frameInfo(frame), frame))

	require.Len(t, sock.sent, 2)
	assert.Equal(t, uint32(15000), binary.BigEndian.Uint32(sock.sent[0].data[12:16]))
	assert.Equal(t, uint32(15002), binary.BigEndian.Uint32(sock.sent[1].data[12:16]))
	// sequence is not enabled
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(sock.sent[1].data[4:8]))
}

func TestEngineDefaultHeader(t *testing.T) {
	sock := newDummySocket()
	engine := newTestEngine(sock, nil)

	require.NoError(t, engine.Initialize([]byte(`{"ext_params": {
		"remoteips": ["192.0.2.1"],
		"use_default_header": true,
		"enable_sequence": true,
		"sequence_begin": 10,
		"enable_spanid": true,
		"spanid": 3
	}}`)))

	frame := []byte{1, 2}
	require.NoError(t, engine.Export(frameInfo(frame), frame))
	require.NoError(t, engine.Export(frameInfo(frame), frame))

	require.Len(t, sock.sent, 2)
	for _, s := range sock.sent {
		hdr, err := erspan.ParseHeader(s.data)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), hdr.Sequence)
		assert.Equal(t, uint16(0), hdr.SpanID)
		assert.Equal(t, uint8(2), hdr.Version)
	}
}

func TestEngineMaxFrame(t *testing.T) {
	sock := newDummySocket()
	engine := newTestEngine(sock, nil)
	require.NoError(t, engine.Initialize([]byte(`{"ext_params": {"remoteips": ["192.0.2.1"]}}`)))
	assert.Equal(t, erspan.HeaderLength+erspan.MaxFrameLength, erspan.EngineDestinationBufferSize(engine, 0))

	exact := make([]byte, 65535)
	exact[0], exact[65534] = 0xaa, 0xbb
	require.NoError(t, engine.Export(frameInfo(exact), exact))

	large := make([]byte, 70000)
	for i := range large {
		large[i] = byte(i % 251)
	}
	require.NoError(t, engine.Export(frameInfo(large), large))

	require.Len(t, sock.sent, 2)
	assert.Len(t, sock.sent[0].data, 20+65535)
	assert.Equal(t, exact, sock.sent[0].data[20:])

	assert.Len(t, sock.sent[1].data, 20+65535)
	assert.Equal(t, large[:65535], sock.sent[1].data[20:])
}

func TestEngineCaptureLength(t *testing.T) {
	sock := newDummySocket()
	engine := newTestEngine(sock, nil)
	require.NoError(t, engine.Initialize([]byte(`{"ext_params": {"remoteips": ["192.0.2.1"]}}`)))

	frame := []byte{1, 2, 3, 4, 5, 6}
	ci := frameInfo(frame)
	ci.CaptureLength = 4
	require.NoError(t, engine.Export(ci, frame))
	require.Len(t, sock.sent, 1)
	assert.Equal(t, []byte{1, 2, 3, 4}, sock.sent[0].data[20:])

	ci.CaptureLength = 7
	assert.ErrorIs(t, engine.Export(ci, frame), erspan.ErrInvalidFrame)
	ci.CaptureLength = -1
	assert.ErrorIs(t, engine.Export(ci, frame), erspan.ErrInvalidFrame)
	assert.ErrorIs(t, engine.Export(gopacket.CaptureInfo{}, nil), erspan.ErrInvalidFrame)
}

func TestEngineNotInitialized(t *testing.T) {
	engine := newTestEngine(newDummySocket(), nil)
	frame := []byte{1}
	assert.ErrorIs(t, engine.Export(frameInfo(frame), frame), erspan.ErrNotInitialized)

	require.NoError(t, engine.Initialize([]byte(`{"ext_params": {"remoteips": ["192.0.2.1"]}}`)))
	require.NoError(t, engine.Terminate())
	assert.ErrorIs(t, engine.Export(frameInfo(frame), frame), erspan.ErrNotInitialized)
	assert.Nil(t, engine.Settings())
}

func TestEngineRejectsOtherExtension(t *testing.T) {
	engine := newTestEngine(newDummySocket(), nil)
	err := engine.Initialize([]byte(`{"ext_file_path": "libproto_netflow.so"}`))
	assert.ErrorIs(t, err, erspan.ErrConfiguration)
}

func TestEngineResolutionFailureAbortsActivation(t *testing.T) {
	sock := newDummySocket()
	engine := newTestEngine(sock, nil)

	err := engine.Initialize([]byte(`{"ext_params": {
		"remoteips": ["192.0.2.1", "collector.invalid", "192.0.2.3"]
	}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, erspan.ErrAddressResolution)

	var destErr *erspan.DestinationError
	require.ErrorAs(t, err, &destErr)
	assert.Equal(t, 1, destErr.Index)
	assert.Equal(t, "collector.invalid", destErr.Endpoint)

	// first destination stays open, later ones were never attempted
	require.Equal(t, 3, erspan.EngineDestinationCount(engine))
	assert.Len(t, sock.opened, 1)
	assert.NotEqual(t, -1, erspan.EngineDestinationFD(engine, 0))
	assert.Equal(t, -1, erspan.EngineDestinationFD(engine, 1))
	assert.Equal(t, -1, erspan.EngineDestinationFD(engine, 2))
	assert.Empty(t, sock.closed)

	frame := []byte{1}
	assert.ErrorIs(t, engine.Export(frameInfo(frame), frame), erspan.ErrNotInitialized)

	require.NoError(t, engine.Terminate())
	assert.Equal(t, sock.opened, sock.closed)
}

func TestEngineSendErrorDoesNotStopOthers(t *testing.T) {
	sock := newDummySocket()
	engine := newTestEngine(sock, nil)
	require.NoError(t, engine.Initialize([]byte(`{"ext_params": {"remoteips": ["192.0.2.1", "192.0.2.2", "192.0.2.3"]}}`)))

	fd0 := erspan.EngineDestinationFD(engine, 0)
	fd1 := erspan.EngineDestinationFD(engine, 1)
	fd2 := erspan.EngineDestinationFD(engine, 2)
	sock.results[fd0] = []sendResult{{err: unix.EHOSTUNREACH}}
	sock.results[fd2] = []sendResult{{short: 3}}

	frame := []byte{1, 2, 3, 4}
	err := engine.Export(frameInfo(frame), frame)
	require.Error(t, err)
	assert.ErrorIs(t, err, erspan.ErrSend)
	assert.ErrorIs(t, err, erspan.ErrShortWrite)
	assert.ErrorIs(t, err, unix.EHOSTUNREACH)

	assert.Equal(t, 1, sock.calls[fd0], "non transient errors are not retried")
	assert.Len(t, sock.sentTo(fd1), 1)
	assert.Equal(t, 1, sock.calls[fd2])
}

func TestEngineRetriesENOBUFS(t *testing.T) {
	sock := newDummySocket()
	engine := newTestEngine(sock, nil)
	require.NoError(t, engine.Initialize([]byte(`{"ext_params": {"remoteips": ["192.0.2.1", "192.0.2.2"]}}`)))

	fd0 := erspan.EngineDestinationFD(engine, 0)
	sock.results[fd0] = []sendResult{{err: unix.ENOBUFS}, {err: unix.ENOBUFS}, {err: unix.ENOBUFS}}

	frame := []byte{9, 9}
	require.NoError(t, engine.Export(frameInfo(frame), frame))
	assert.Equal(t, 4, sock.calls[fd0])
	assert.Len(t, sock.sentTo(fd0), 1)
	assert.Len(t, sock.sentTo(erspan.EngineDestinationFD(engine, 1)), 1)
}

func TestEngineRetryLimit(t *testing.T) {
	sock := newDummySocket()
	engine := erspan.New(erspan.Arguments{
		Sockets:       sock,
		Resolve:       dummyResolver,
		RetryLimit:    2,
		RetryInterval: time.Microsecond,
	})
	require.NoError(t, engine.Initialize([]byte(`{"ext_params": {"remoteips": ["192.0.2.1"]}}`)))

	fd := erspan.EngineDestinationFD(engine, 0)
	sock.results[fd] = []sendResult{{err: unix.ENOBUFS}, {err: unix.ENOBUFS}, {err: unix.ENOBUFS}, {err: unix.ENOBUFS}}

	frame := []byte{9}
	err := engine.Export(frameInfo(frame), frame)
	assert.ErrorIs(t, err, erspan.ErrRetryExhausted)
	assert.Equal(t, 3, sock.calls[fd])
}

func TestEngineShutdown(t *testing.T) {
	sock := newDummySocket()
	engine := newTestEngine(sock, nil)
	require.NoError(t, engine.Initialize([]byte(`{"ext_params": {"remoteips": ["192.0.2.1", "192.0.2.2"]}}`)))

	require.NoError(t, engine.Shutdown())
	require.NoError(t, engine.Shutdown())
	assert.Len(t, sock.closed, 2)

	frame := []byte{1}
	err := engine.Export(frameInfo(frame), frame)
	assert.ErrorIs(t, err, erspan.ErrSocketNotOpen)
	assert.Empty(t, sock.sent)

	require.NoError(t, engine.Terminate())
	assert.Len(t, sock.closed, 2)
}

func TestEngineRecorder(t *testing.T) {
	sock := newDummySocket()
	rec := &dummyRecorder{}
	engine := erspan.New(erspan.Arguments{
		Sockets:  sock,
		Resolve:  dummyResolver,
		Recorder: rec,
	})
	require.NoError(t, engine.Initialize([]byte(sampleDocument)))

	frame := []byte{1, 2, 3}
	require.NoError(t, engine.Export(frameInfo(frame), frame))

	require.Len(t, rec.datagrams, 1)
	assert.Equal(t, sock.sent[0].data, rec.datagrams[0])
	assert.Equal(t, "10.1.1.37", rec.dsts[0].String())

	require.NoError(t, engine.Terminate())
	assert.True(t, rec.closed)
}

func TestNewEncapsulator(t *testing.T) {
	enc, err := erspan.NewEncapsulator("proto_erspan_type3", erspan.Arguments{
		Sockets: newDummySocket(),
		Resolve: dummyResolver,
	})
	require.NoError(t, err)
	require.NoError(t, enc.Initialize([]byte(sampleDocument)))
	require.NoError(t, enc.Shutdown())
	require.NoError(t, enc.Terminate())

	_, err = erspan.NewEncapsulator("proto_netflow", erspan.Arguments{})
	assert.Error(t, err)
	assert.Equal(t, []string{"proto_erspan_type3"}, erspan.Encapsulators())
}
