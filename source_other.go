//go:build !linux

package main

import "github.com/pkg/errors"

func openLiveSource(device string) (frameSource, error) {
	return nil, errors.New("Live capture is supported on linux only, use --read")
}
