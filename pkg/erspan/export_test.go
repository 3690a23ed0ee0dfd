//nolint
package erspan

var (
	NewDestination = newDestination
	ExtensionName  = extensionName
	TimestampTicks = timestampTicks
)

type S3Uploader = s3Uploader

func OpenDestination(d *destination, sock SocketOps, resolve ResolveFunc, device string, pmtu PMTUDisc) error {
	return d.openIfNeeded(sock, resolve, device, pmtu)
}

func CloseDestination(d *destination, sock SocketOps) error {
	return d.close(sock)
}

func DestinationFD(d *destination) int {
	return d.fd
}

func EngineDestinationCount(e *Engine) int {
	return len(e.destinations)
}

func EngineDestinationFD(e *Engine, i int) int {
	return e.destinations[i].fd
}

// EngineDestinationHeader returns the live header bytes of destination i.
func EngineDestinationHeader(e *Engine, i int) []byte {
	return e.destinations[i].buf[:HeaderLength]
}

func EngineDestinationBufferSize(e *Engine, i int) int {
	return len(e.destinations[i].buf)
}

// ReplaceS3Uploader swaps the S3 client constructor and returns a function restoring it.
func ReplaceS3Uploader(f func(region string) S3Uploader) func() {
	orig := newS3Uploader
	newS3Uploader = f
	return func() { newS3Uploader = orig }
}
