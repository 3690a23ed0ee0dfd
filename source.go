package main

import (
	"bufio"
	"encoding/binary"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
)

// frameSource hands captured frames one at a time.
type frameSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	Close() error
}

const pcapngMagic = 0x0a0d0d0a

type fileSource struct {
	fd     *os.File
	reader gopacket.PacketDataSource
}

// openFileSource reads a pcap or pcapng file; the format is told by the magic number.
func openFileSource(path string) (frameSource, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Fail to open capture file %s", path)
	}

	br := bufio.NewReader(fd)
	magic, err := br.Peek(4)
	if err != nil {
		fd.Close()
		return nil, errors.Wrapf(err, "Fail to read capture file header %s", path)
	}

	src := fileSource{fd: fd}
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			fd.Close()
			return nil, errors.Wrap(err, "Fail to parse pcapng file")
		}
		src.reader = r
	} else {
		r, err := pcapgo.NewReader(br)
		if err != nil {
			fd.Close()
			return nil, errors.Wrap(err, "Fail to parse pcap file")
		}
		src.reader = r
	}

	logger.WithField("path", path).Info("Reading frames from file")
	return &src, nil
}

func (x *fileSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return x.reader.ReadPacketData()
}

func (x *fileSource) Close() error {
	return x.fd.Close()
}
