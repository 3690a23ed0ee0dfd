//go:build unix

package erspan

import (
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// Recorder keeps a copy of the tunneled datagrams the engine sends.
type Recorder interface {
	Record(ts time.Time, dst net.IP, datagram []byte) error
	Close() error
}

// RecorderArguments is for construction of a pcap Recorder.
type RecorderArguments struct {
	// Emitter is "fs" or "s3".
	Emitter string
	Format  string

	// For fs emitter
	FsDirPath  string
	FsFileName string

	// For s3 emitter
	AwsRegion       string
	AwsS3Bucket     string
	AwsS3Prefix     string
	AwsS3AddTimeKey bool
	AwsS3FlushCount int

	// Source addresses of the synthetic IP header. Unspecified when nil.
	SrcIPv4 net.IP
	SrcIPv6 net.IP
}

// maxRecordedDatagram keeps the synthetic IPv4 and IPv6 length fields in range.
const maxRecordedDatagram = 65535 - 40

var (
	recordSrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	recordDstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

type pcapRecorder struct {
	args    RecorderArguments
	emitter recordEmitter
	sbuf    gopacket.SerializeBuffer
}

// NewRecorder builds a Recorder writing pcap through the named emitter.
func NewRecorder(args RecorderArguments) (Recorder, error) {
	if args.Format == "" {
		args.Format = "pcap"
	}

	d, err := getDumper(args.Format)
	if err != nil {
		return nil, err
	}

	emitter, err := newEmitter(args, d)
	if err != nil {
		return nil, err
	}

	rec := pcapRecorder{
		args:    args,
		emitter: emitter,
		sbuf:    gopacket.NewSerializeBuffer(),
	}
	return &rec, nil
}

// Record wraps datagram in Ethernet and IP (protocol GRE) toward dst and emits it.
func (x *pcapRecorder) Record(ts time.Time, dst net.IP, datagram []byte) error {
	if len(datagram) > maxRecordedDatagram {
		datagram = datagram[:maxRecordedDatagram]
	}

	eth := &layers.Ethernet{
		SrcMAC: recordSrcMAC,
		DstMAC: recordDstMAC,
	}

	var netLayer gopacket.SerializableLayer
	if ip4 := dst.To4(); ip4 != nil {
		src := x.args.SrcIPv4
		if src == nil {
			src = net.IPv4zero
		}
		eth.EthernetType = layers.EthernetTypeIPv4
		netLayer = &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolGRE,
			SrcIP:    src.To4(),
			DstIP:    ip4,
		}
	} else if dst.To16() != nil {
		src := x.args.SrcIPv6
		if src == nil {
			src = net.IPv6unspecified
		}
		eth.EthernetType = layers.EthernetTypeIPv6
		netLayer = &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolGRE,
			SrcIP:      src.To16(),
			DstIP:      dst.To16(),
		}
	} else {
		return errors.Errorf("Invalid destination IP for record: %v", dst)
	}

	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(x.sbuf, opts, eth, netLayer, gopacket.Payload(datagram)); err != nil {
		return errors.Wrap(err, "Fail to serialize record envelope")
	}

	raw := x.sbuf.Bytes()
	r := &record{
		Data:      make([]byte, len(raw)),
		Timestamp: ts,
	}
	copy(r.Data, raw)

	return x.emitter.emit([]*record{r})
}

func (x *pcapRecorder) Close() error {
	return x.emitter.teardown()
}
