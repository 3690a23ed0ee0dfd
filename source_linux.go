package main

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/pkg/errors"
)

// livePollTimeout bounds a blocking read so that signals are checked between frames.
const livePollTimeout = 200 * time.Millisecond

type liveSource struct {
	handle *afpacket.TPacket
}

func openLiveSource(device string) (frameSource, error) {
	h, err := afpacket.NewTPacket(
		afpacket.OptInterface(device),
		afpacket.OptPollTimeout(livePollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "Fail to open AF_PACKET socket on %s", device)
	}

	logger.WithField("device", device).Info("Capturing frames")
	return &liveSource{handle: h}, nil
}

func (x *liveSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := x.handle.ReadPacketData()
	if err == afpacket.ErrTimeout {
		return nil, ci, errSourceTimeout
	}
	return data, ci, err
}

func (x *liveSource) Close() error {
	x.handle.Close()
	return nil
}
