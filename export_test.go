//nolint
package main

import (
	"os"

	"github.com/m-mizutani/erspanx/pkg/erspan"
)

var (
	NewApp         = newApp
	OpenFileSource = openFileSource
	SetupLogger    = setupLogger
	Logger         = logger
)

type Options options
type RelayStats relayStats

func RelayFrames(enc erspan.Encapsulator, src frameSource, count int, sigCh <-chan os.Signal) (*RelayStats, error) {
	stats, err := relay(enc, src, count, sigCh)
	return (*RelayStats)(stats), err
}

func LoadDocumentWith(opts Options) (*erspan.Document, error) {
	return loadDocument(options(opts))
}

func NewRecorderWith(opts Options) (erspan.Recorder, error) {
	return newRecorder(options(opts))
}
