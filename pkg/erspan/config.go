//go:build unix

package erspan

import (
	"fmt"
	"math"
	"reflect"

	"github.com/k0kubun/pp"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

// PMTUDisc is the path MTU discovery mode applied to every destination socket.
type PMTUDisc int

const (
	// PMTUDiscUnset leaves the kernel default on the socket.
	PMTUDiscUnset PMTUDisc = iota
	PMTUDiscDont
	PMTUDiscWant
	PMTUDiscDo
)

var pmtuDiscOptions = map[string]PMTUDisc{
	"dont": PMTUDiscDont,
	"want": PMTUDiscWant,
	"do":   PMTUDiscDo,
}

func (x PMTUDisc) String() string {
	for name, mode := range pmtuDiscOptions {
		if mode == x {
			return name
		}
	}
	return "unset"
}

// TimestampGranularity is the ERSPAN Gra field.
type TimestampGranularity uint8

const (
	Granularity100Microseconds TimestampGranularity = iota
	Granularity100Nanoseconds
	GranularityIEEE1588
	GranularityUserDefined
)

// Settings is the resolved, static part of the engine state.
type Settings struct {
	RemoteIPs  []string
	BindDevice string
	PMTUDisc   PMTUDisc

	UseDefaultHeader bool

	EnableSpanID bool
	SpanID       uint16

	EnableSequence bool
	SequenceBegin  uint32

	EnableTimestamp bool
	TimestampType   TimestampGranularity

	EnableSecurityGroupTag bool
	SecurityGroupTag       uint16

	EnableHardwareID bool
	HardwareID       uint8

	// NeedHeaderUpdate is true when frames must have sequence or timestamp rewritten.
	NeedHeaderUpdate bool

	// Warnings holds every clamped or defaulted value; each wraps ErrOutOfRange.
	Warnings []error
}

// extParams mirrors the keys of the ext_params object.
type extParams struct {
	RemoteIPs      []string `mapstructure:"remoteips"`
	BindDevice     string   `mapstructure:"bind_device"`
	PMTUDiscOption string   `mapstructure:"pmtudisc_option"`

	UseDefaultHeader bool `mapstructure:"use_default_header"`

	EnableSpanID bool  `mapstructure:"enable_spanid"`
	SpanID       int64 `mapstructure:"spanid"`

	EnableSequence bool  `mapstructure:"enable_sequence"`
	SequenceBegin  int64 `mapstructure:"sequence_begin"`

	EnableTimestamp bool  `mapstructure:"enable_timestamp"`
	TimestampType   int64 `mapstructure:"timestamp_type"`

	EnableSecurityGroupTag bool  `mapstructure:"enable_security_grp_tag"`
	SecurityGroupTag       int64 `mapstructure:"security_grp_tag"`

	EnableHardwareID bool  `mapstructure:"enable_hw_id"`
	HardwareID       int64 `mapstructure:"hw_id"`
}

func decodeParams(params map[string]interface{}) (*extParams, error) {
	var p extParams
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		DecodeHook:       strictScalar,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, configError("fail to create decoder: %v", err)
	}
	if err := decoder.Decode(params); err != nil {
		return nil, configError("%v", err)
	}
	return &p, nil
}

// strictScalar turns off the lossy conversions of weakly typed decoding
// (1020.9 to 1020, true to "1", "yes" to true). The weak rule still in use
// reads a lone string as a one-element list.
func strictScalar(from, to reflect.Type, data interface{}) (interface{}, error) {
	switch to.Kind() {
	case reflect.String:
		if from.Kind() != reflect.String {
			return nil, fmt.Errorf("expected a string, got %v (%s)", data, from)
		}
	case reflect.Bool:
		if from.Kind() != reflect.Bool {
			return nil, fmt.Errorf("expected a boolean, got %v (%s)", data, from)
		}
	case reflect.Int64:
		switch from.Kind() {
		case reflect.Float32, reflect.Float64:
			return integral(reflect.ValueOf(data).Float())
		case reflect.String, reflect.Bool:
			return nil, fmt.Errorf("expected an integer, got %v (%s)", data, from)
		}
	}
	return data, nil
}

// integral saturates at the int64 bounds so that huge values still reach the range checks.
func integral(f float64) (int64, error) {
	if math.Trunc(f) != f {
		return 0, fmt.Errorf("expected an integer, got %v", f)
	}
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64, nil
	case f <= math.MinInt64:
		return math.MinInt64, nil
	}
	return int64(f), nil
}

// ResolveParams validates the ext_params object and normalizes it into Settings.
// Out of range values are clamped or defaulted, logged and kept in Settings.Warnings.
func ResolveParams(params map[string]interface{}) (*Settings, error) {
	p, err := decodeParams(params)
	if err != nil {
		return nil, err
	}

	s := &Settings{
		RemoteIPs:  p.RemoteIPs,
		BindDevice: p.BindDevice,
	}

	if p.PMTUDiscOption != "" {
		mode, ok := pmtuDiscOptions[p.PMTUDiscOption]
		if !ok {
			s.warn(fmt.Errorf("pmtudisc_option %q is not one of do, dont, want: %w", p.PMTUDiscOption, ErrOutOfRange),
				"pmtudisc_option config invalid, left unset")
		}
		s.PMTUDisc = mode
	}

	if p.UseDefaultHeader {
		s.UseDefaultHeader = true
		return s, nil
	}

	if p.EnableSpanID {
		s.EnableSpanID = true
		switch {
		case p.SpanID < 0:
			return nil, configError("spanid must not be negative: %d", p.SpanID)
		case p.SpanID > maxSpanID:
			s.warn(outOfRange("spanid", p.SpanID, "span ID is out of bound (2^10)"), "spanid reset to 0")
		default:
			s.SpanID = uint16(p.SpanID)
		}
	}

	if p.EnableSequence {
		s.EnableSequence = true
		if p.SequenceBegin < 0 || p.SequenceBegin > math.MaxUint32 {
			return nil, configError("sequence_begin must fit in 32 bits: %d", p.SequenceBegin)
		}
		s.SequenceBegin = uint32(p.SequenceBegin)
	}

	if p.EnableTimestamp {
		s.EnableTimestamp = true
		if p.TimestampType != int64(Granularity100Microseconds) {
			s.warn(outOfRange("timestamp_type", p.TimestampType, "only 100 microseconds granularity is supported"),
				"timestamp_type reset to 100 microseconds")
		}
		s.TimestampType = Granularity100Microseconds
	}

	if p.EnableSecurityGroupTag {
		s.EnableSecurityGroupTag = true
		if p.SecurityGroupTag < 0 || p.SecurityGroupTag > math.MaxUint16 {
			return nil, configError("security_grp_tag must fit in 16 bits: %d", p.SecurityGroupTag)
		}
		s.SecurityGroupTag = uint16(p.SecurityGroupTag)
	}

	if p.EnableHardwareID {
		s.EnableHardwareID = true
		switch {
		case p.HardwareID < 0:
			return nil, configError("hw_id must not be negative: %d", p.HardwareID)
		case p.HardwareID > maxHardwareID:
			s.warn(outOfRange("hw_id", p.HardwareID, "hardware ID is out of bound (2^6)"), "hw_id reset to 0")
		default:
			s.HardwareID = uint8(p.HardwareID)
		}
	}

	s.NeedHeaderUpdate = s.EnableSequence || s.EnableTimestamp
	return s, nil
}

func (x *Settings) warn(err error, msg string) {
	x.Warnings = append(x.Warnings, err)
	Logger.WithError(err).Warn(msg)
}

// Fields returns the resolved values as log fields.
func (x *Settings) Fields() logrus.Fields {
	return logrus.Fields{
		"remote_ips":              x.RemoteIPs,
		"bind_device":             x.BindDevice,
		"pmtudisc_option":         x.PMTUDisc.String(),
		"use_default_header":      x.UseDefaultHeader,
		"enable_sequence":         x.EnableSequence,
		"sequence_begin":          x.SequenceBegin,
		"enable_spanid":           x.EnableSpanID,
		"spanid":                  x.SpanID,
		"enable_timestamp":        x.EnableTimestamp,
		"timestamp_type":          x.TimestampType,
		"enable_security_grp_tag": x.EnableSecurityGroupTag,
		"security_grp_tag":        x.SecurityGroupTag,
		"enable_hw_id":            x.EnableHardwareID,
		"hw_id":                   x.HardwareID,
	}
}

func init() {
	// Settings end up in log files; ANSI escapes do not belong there.
	pp.ColoringEnabled = false
}

func (x *Settings) String() string {
	return pp.Sprint(*x)
}
