//go:build unix

package erspan

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"honnef.co/go/pcap"
)

// record is one tunneled datagram wrapped in a synthetic link and network header.
type record struct {
	Data      []byte
	Timestamp time.Time
}

type dumper interface {
	open(io.Writer) error
	dump([]*record, io.Writer) error
	close(io.Writer) error
}

func getDumper(format string) (dumper, error) {
	dumperMap := map[string]func() dumper{
		"pcap": func() dumper { return &pcapDumper{} },
	}

	constructor, ok := dumperMap[format]
	if !ok {
		return nil, fmt.Errorf("The format is not supported: %s", format)
	}

	return constructor(), nil
}

// pcapDumper is not concurrency safe
type pcapDumper struct {
	writer *pcap.Writer
}

type pcapPayload []byte

func (x pcapPayload) Payload() []byte {
	return x
}

func (x *pcapDumper) open(writer io.Writer) error {
	w := pcap.NewWriter(writer)
	w.Header.Network = pcap.DLT_EN10MB
	if err := w.WriteHeader(); err != nil {
		return errors.Wrap(err, "Fail to write header of pcap")
	}
	x.writer = w
	return nil
}

func (x *pcapDumper) close(writer io.Writer) error {
	x.writer = nil
	return nil
}

func (x *pcapDumper) dump(records []*record, writer io.Writer) error {
	if x.writer == nil {
		return fmt.Errorf("pcapDumper.writer is not set, assertion error")
	}

	for _, r := range records {
		pkt := pcap.Packet{
			Header: pcap.PacketHeader{Timestamp: r.Timestamp},
			Data:   pcapPayload(r.Data),
		}

		if err := x.writer.WritePacket(pkt); err != nil {
			return errors.Wrap(err, "Fail to write pcap data")
		}
	}

	return nil
}
