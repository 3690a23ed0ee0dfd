//go:build unix

package erspan

import (
	"fmt"
	"sort"

	"github.com/google/gopacket"
)

// Encapsulator is the lifecycle of a mirroring extension as seen by the
// capture host: activate once, export frames one at a time, then shut down.
type Encapsulator interface {
	Initialize(doc []byte) error
	Configure(doc *Document) error
	Export(ci gopacket.CaptureInfo, frame []byte) error
	Shutdown() error
	Terminate() error
}

type encapsulatorConstructor func(Arguments) Encapsulator

var encapsulatorMap = map[string]encapsulatorConstructor{
	DefaultEncapsulator: func(args Arguments) Encapsulator { return New(args) },
}

// NewEncapsulator returns the extension registered under name.
func NewEncapsulator(name string, args Arguments) (Encapsulator, error) {
	constructor, ok := encapsulatorMap[name]
	if !ok {
		return nil, fmt.Errorf("Encapsulator %q is not supported, available: %v", name, Encapsulators())
	}
	return constructor(args), nil
}

// Encapsulators lists the registered extension names.
func Encapsulators() []string {
	var names []string
	for name := range encapsulatorMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
