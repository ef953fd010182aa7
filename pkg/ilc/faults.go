// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

import "fmt"

// FaultKind is a framing fault found while parsing a subnet's replies.
// Framing faults cannot always be attributed to a device.
type FaultKind int

const (
	FaultInvalidCRC FaultKind = iota
	FaultInvalidLength
	FaultUnknownAddress
	FaultUnknownFunction
	FaultMissingEndOfFrame
	FaultMissingTimestamp
	faultKindCount
)

// String returns the fault name
func (k FaultKind) String() string {
	switch k {
	case FaultInvalidCRC:
		return "INVALID_CRC"
	case FaultInvalidLength:
		return "INVALID_LENGTH"
	case FaultUnknownAddress:
		return "UNKNOWN_ADDRESS"
	case FaultUnknownFunction:
		return "UNKNOWN_FUNCTION"
	case FaultMissingEndOfFrame:
		return "MISSING_END_OF_FRAME"
	case FaultMissingTimestamp:
		return "MISSING_TIMESTAMP"
	default:
		return fmt.Sprintf("FAULT(%d)", int(k))
	}
}

// FaultKinds lists every framing fault kind
func FaultKinds() []FaultKind {
	kinds := make([]FaultKind, 0, faultKindCount)
	for k := FaultKind(0); k < faultKindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// FrameFault describes one skipped frame
type FrameFault struct {
	Subnet   uint8
	Kind     FaultKind
	Index    int // word index of the frame in the response buffer
	Address  uint8
	Function uint8
	Length   int
}

// String returns a one-line description
func (f FrameFault) String() string {
	switch f.Kind {
	case FaultUnknownAddress, FaultUnknownFunction:
		return fmt.Sprintf("subnet %d: %s (address %d, function %d)", f.Subnet, f.Kind, f.Address, f.Function)
	case FaultInvalidLength:
		return fmt.Sprintf("subnet %d: %s (%d bytes)", f.Subnet, f.Kind, f.Length)
	default:
		return fmt.Sprintf("subnet %d: %s at word %d", f.Subnet, f.Kind, f.Index)
	}
}

// WarningKind is a device-level condition raised while parsing
type WarningKind int

const (
	WarningIllegalFunction WarningKind = iota
	WarningIllegalDataAddress
	WarningIllegalDataValue
	WarningInvalidLength
	WarningUnknownException
	WarningFollowingError
	WarningOutOfRange
	WarningFaultReported
)

// String returns the warning name
func (k WarningKind) String() string {
	switch k {
	case WarningIllegalFunction:
		return "ILLEGAL_FUNCTION"
	case WarningIllegalDataAddress:
		return "ILLEGAL_DATA_ADDRESS"
	case WarningIllegalDataValue:
		return "ILLEGAL_DATA_VALUE"
	case WarningInvalidLength:
		return "INVALID_LENGTH"
	case WarningUnknownException:
		return "UNKNOWN_EXCEPTION"
	case WarningFollowingError:
		return "FOLLOWING_ERROR"
	case WarningOutOfRange:
		return "OUT_OF_RANGE"
	case WarningFaultReported:
		return "FAULT_REPORTED"
	default:
		return fmt.Sprintf("WARNING(%d)", int(k))
	}
}

// Warning is a device-level condition, raised instead of (or after) a
// telemetry update
type Warning struct {
	Kind     WarningKind
	Function uint8
	Message  string
	Details  map[string]interface{}
}

// Error implements the error interface
func (w *Warning) Error() string {
	return w.Message
}

// exceptionWarning maps an exception reply to its warning
func exceptionWarning(fn uint8, code ExceptionCode) Warning {
	kind := WarningUnknownException
	switch code {
	case ExceptionIllegalFunction:
		kind = WarningIllegalFunction
	case ExceptionIllegalDataAddress:
		kind = WarningIllegalDataAddress
	case ExceptionIllegalDataValue:
		kind = WarningIllegalDataValue
	case ExceptionInvalidLength:
		kind = WarningInvalidLength
	}
	return Warning{
		Kind:     kind,
		Function: fn,
		Message:  fmt.Sprintf("function %d: exception %d (%s)", fn, code, kind),
		Details:  map[string]interface{}{"function": fn, "code": uint8(code)},
	}
}

// DeviceWarning pairs a warning with the device raising it
type DeviceWarning struct {
	Device  Device
	Warning Warning
}

// SafetyNotifier receives the fault signals of every cycle. Escalation
// (debouncing, thresholds) belongs to the implementation.
type SafetyNotifier interface {
	NotifyCommunicationTimeout(dev Device, timedOut bool)
	NotifyFrameFault(subnet uint8, fault FaultKind)
	NotifyDeviceWarning(dev Device, w Warning)
}

// NoopNotifier discards every notification
type NoopNotifier struct{}

func (NoopNotifier) NotifyCommunicationTimeout(Device, bool) {}
func (NoopNotifier) NotifyFrameFault(uint8, FaultKind)       {}
func (NoopNotifier) NotifyDeviceWarning(Device, Warning)     {}
