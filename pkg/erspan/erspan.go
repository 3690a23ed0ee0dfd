//go:build unix

package erspan

import (
	"time"

	"github.com/google/gopacket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Logger is logging interface of the package. Warnings about clamped
// configuration values are shown by default; set a lower level to trace
// socket setup and sends.
var Logger = logrus.New()

func init() {
	Logger.SetLevel(logrus.WarnLevel)
}

// Arguments holds the collaborators of Engine. Zero values select the
// system implementations.
type Arguments struct {
	Sockets SocketOps
	Resolve ResolveFunc
	Now     func() time.Time

	// RetryLimit bounds ENOBUFS retries of one send. 0 retries forever.
	RetryLimit    int
	RetryInterval time.Duration

	// Recorder receives a copy of every datagram sent. Optional.
	Recorder Recorder
}

// Engine encapsulates captured frames in GRE + ERSPAN Type III and sends
// them to every configured destination over raw sockets. It is not safe
// for concurrent use.
type Engine struct {
	settings     *Settings
	destinations []*destination
	headerLength int
	startTime    time.Time
	initialized  bool

	sockets       SocketOps
	resolve       ResolveFunc
	now           func() time.Time
	retryLimit    int
	retryInterval time.Duration
	recorder      Recorder
}

// New is constructor of Engine.
func New(args Arguments) *Engine {
	engine := Engine{
		sockets:       args.Sockets,
		resolve:       args.Resolve,
		now:           args.Now,
		retryLimit:    args.RetryLimit,
		retryInterval: args.RetryInterval,
		recorder:      args.Recorder,
	}

	if engine.sockets == nil {
		engine.sockets = SystemSocket()
	}
	if engine.resolve == nil {
		engine.resolve = ResolveEndpoint
	}
	if engine.now == nil {
		engine.now = time.Now
	}
	if engine.retryInterval <= 0 {
		engine.retryInterval = DefaultRetryInterval
	}

	return &engine
}

// Initialize parses a JSON configuration document and activates the engine.
func (x *Engine) Initialize(raw []byte) error {
	doc, err := ParseDocument(raw)
	if err != nil {
		return err
	}
	return x.Configure(doc)
}

// Configure activates the engine with an already loaded document.
func (x *Engine) Configure(doc *Document) error {
	if doc.Name != DefaultEncapsulator {
		return configError("document is for %q, not %q", doc.Name, DefaultEncapsulator)
	}

	settings, err := ResolveParams(doc.Params)
	if err != nil {
		return err
	}
	return x.Setup(settings)
}

// Setup builds the header template of every destination and opens the
// sockets in order. The first destination that fails to open aborts the
// activation; destinations opened before it stay open until Shutdown.
func (x *Engine) Setup(settings *Settings) error {
	if x.initialized {
		return errors.New("Engine is already initialized")
	}

	// Sockets left over from an aborted activation.
	if err := x.Shutdown(); err != nil {
		Logger.WithError(err).Warn("Fail to close sockets of previous activation")
	}

	Logger.WithFields(settings.Fields()).Info("Resolved ERSPAN settings")
	Logger.Debug(settings.String())

	if len(settings.RemoteIPs) == 0 {
		Logger.Warn("No remoteips in configuration, frames will not be sent anywhere")
	}

	x.settings = settings
	x.startTime = x.now()
	x.destinations = make([]*destination, len(settings.RemoteIPs))

	var seq uint32
	var spanID, sgt uint16
	var hwID uint8
	if !settings.UseDefaultHeader {
		seq, spanID, sgt, hwID = settings.SequenceBegin, settings.SpanID, settings.SecurityGroupTag, settings.HardwareID
	}

	for i, endpoint := range settings.RemoteIPs {
		d := newDestination(i, endpoint)
		hdrLen, err := BuildHeader(d.buf, seq, spanID, sgt, hwID)
		if err != nil {
			return configError("Fail to build tunnel header for %s: %v", endpoint, err)
		}
		x.headerLength = hdrLen
		x.destinations[i] = d
	}
	if x.headerLength == 0 {
		x.headerLength = HeaderLength
	}

	for _, d := range x.destinations {
		if err := d.openIfNeeded(x.sockets, x.resolve, settings.BindDevice, settings.PMTUDisc); err != nil {
			return err
		}
	}

	x.initialized = true
	Logger.WithFields(logrus.Fields{
		"destinations": len(x.destinations),
		"headerLength": x.headerLength,
	}).Info("ERSPAN engine is ready")

	return nil
}

// Export sends one captured frame to all destinations. ci.CaptureLength is
// the number of valid bytes at the front of frame.
func (x *Engine) Export(ci gopacket.CaptureInfo, frame []byte) error {
	if !x.initialized {
		return ErrNotInitialized
	}
	if frame == nil {
		return errors.Wrap(ErrInvalidFrame, "frame is nil")
	}
	if ci.CaptureLength < 0 || ci.CaptureLength > len(frame) {
		return errors.Wrapf(ErrInvalidFrame, "capture length %d, frame has %d bytes", ci.CaptureLength, len(frame))
	}

	ts := ci.Timestamp
	if ts.IsZero() {
		ts = x.now()
	}
	return x.transmit(ts, frame[:ci.CaptureLength])
}

// Shutdown closes every open socket. Calling it again is a no-op. Export
// after Shutdown fails per destination with ErrSocketNotOpen.
func (x *Engine) Shutdown() error {
	var errs error
	for _, d := range x.destinations {
		if d == nil {
			continue
		}
		errs = multierr.Append(errs, d.close(x.sockets))
	}
	return errs
}

// Terminate closes the sockets, releases the buffers and flushes the
// recorder. It is safe after a failed or partial Initialize.
func (x *Engine) Terminate() error {
	errs := x.Shutdown()

	if x.recorder != nil {
		if err := x.recorder.Close(); err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "Fail to close recorder"))
		}
		x.recorder = nil
	}

	x.destinations = nil
	x.settings = nil
	x.initialized = false
	Logger.Debug("ERSPAN engine is terminated")
	return errs
}

// Settings returns the resolved configuration, or nil before Initialize.
func (x *Engine) Settings() *Settings {
	return x.settings
}
