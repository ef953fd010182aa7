// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

import (
	"fmt"
	"strings"
)

// FormatFunction returns the human-readable name of a function code
func FormatFunction(fn uint8) string {
	if fn&exceptionFlag != 0 {
		return "EXCEPTION(" + FormatFunction(fn&^exceptionFlag) + ")"
	}
	switch fn {
	case FuncServerID:
		return "REPORT_SERVER_ID"
	case FuncServerStatus:
		return "REPORT_SERVER_STATUS"
	case FuncChangeMode:
		return "CHANGE_MODE"
	case FuncMoveStepper:
		return "MOVE_STEPPER"
	case FuncHardpointForceStatus:
		return "HP_FORCE_STATUS"
	case FuncFreezeSensor:
		return "FREEZE_SENSOR"
	case FuncSetBoostValveGains:
		return "SET_BOOST_VALVE_GAINS"
	case FuncReadBoostValveGains:
		return "READ_BOOST_VALVE_GAINS"
	case FuncSetForceDemand:
		return "SET_FORCE_DEMAND"
	case FuncForceActuatorStatus:
		return "FA_FORCE_STATUS"
	case FuncSetADCScanRate:
		return "SET_ADC_SCAN_RATE"
	case FuncSetADCOffset:
		return "SET_ADC_OFFSET"
	case FuncEraseApplication:
		return "ERASE_APPLICATION"
	case FuncVerifyApplication:
		return "VERIFY_APPLICATION"
	case FuncResetServer:
		return "RESET_SERVER"
	case FuncReadCalibration:
		return "READ_CALIBRATION"
	case FuncReadPressure:
		return "READ_PRESSURE"
	case FuncReportDCAID:
		return "REPORT_DCA_ID"
	case FuncReportDCAStatus:
		return "REPORT_DCA_STATUS"
	case FuncReportLVDT:
		return "REPORT_LVDT"
	default:
		return "UNKNOWN"
	}
}

// FormatMode returns the name of an ILC mode
func FormatMode(m Mode) string {
	switch m {
	case ModeStandby:
		return "STANDBY"
	case ModeDisabled:
		return "DISABLED"
	case ModeEnabled:
		return "ENABLED"
	case ModeFirmwareUpdate:
		return "FIRMWARE_UPDATE"
	case ModeFault:
		return "FAULT"
	case ModeClearFaults:
		return "CLEAR_FAULTS"
	default:
		return "UNKNOWN"
	}
}

// String implements fmt.Stringer
func (m Mode) String() string {
	return FormatMode(m)
}

// FormatFrame formats the bytes of one frame (CRC included)
func FormatFrame(frame []byte) string {
	if len(frame) < 2 {
		return fmt.Sprintf("short frame % X", frame)
	}
	result := fmt.Sprintf("addr=%-3d %s (%d)", frame[0], FormatFunction(frame[1]), frame[1])
	if len(frame) >= MinFrameBytes {
		payload := frame[2 : len(frame)-2]
		if len(payload) > 0 {
			result += fmt.Sprintf(" payload=[% X]", payload)
		}
		crc := uint16(frame[len(frame)-2]) | uint16(frame[len(frame)-1])<<8
		status := "ok"
		if !CheckCRC(frame) {
			status = "BAD"
		}
		result += fmt.Sprintf(" crc=0x%04X (%s)", crc, status)
	}
	return result
}

// FormatCommandWords lists a subnet command buffer one frame or instruction
// per line
func FormatCommandWords(words []uint16) string {
	var sb strings.Builder
	if len(words) >= 2 {
		fmt.Fprintf(&sb, "FIFO address %d, %d words\n", words[0], words[1])
		words = words[2:]
	}

	var frame []byte
	for _, w := range words {
		kind := ClassifyCommandWord(w)
		if kind == WordTxByte {
			frame = append(frame, DecodeByte(w))
			continue
		}
		if kind == WordEndOfFrame {
			fmt.Fprintf(&sb, "  TX %s\n", FormatFrame(frame))
			frame = frame[:0]
			continue
		}
		if len(frame) > 0 {
			fmt.Fprintf(&sb, "  TX (unterminated) [% X]\n", frame)
			frame = frame[:0]
		}
		fmt.Fprintf(&sb, "  %s\n", formatInstruction(kind, w))
	}
	if len(frame) > 0 {
		fmt.Fprintf(&sb, "  TX (unterminated) [% X]\n", frame)
	}
	return sb.String()
}

func formatInstruction(kind WordKind, w uint16) string {
	arg := WordArgument(w)
	switch kind {
	case WordTxTimestamp:
		return "TIMESTAMP"
	case WordDelay:
		return fmt.Sprintf("DELAY %d us", arg)
	case WordLongDelay:
		return fmt.Sprintf("DELAY %d ms", arg)
	case WordWaitForRx:
		return fmt.Sprintf("WAIT_RX %d us", arg)
	case WordWaitForLongRx:
		return fmt.Sprintf("WAIT_RX %d ms", arg)
	case WordTriggerIRQ:
		return "IRQ"
	case WordWaitForTrigger:
		return "WAIT_TRIGGER"
	default:
		return fmt.Sprintf("UNKNOWN 0x%04X", w)
	}
}

// FormatResponseWords lists the frames of a response buffer
func FormatResponseWords(words []uint16) string {
	var sb strings.Builder
	rb := NewResponseBuffer(words)
	for !rb.EndOfBuffer() {
		ts, ok := rb.ReadTimestamp()
		if !ok {
			w := rb.ReadRaw()
			fmt.Fprintf(&sb, "  ?? 0x%04X\n", w)
			continue
		}
		start := rb.Index()
		n := rb.DataWordsAhead()
		rb.SetIndex(start + n)
		eof := rb.ReadEndOfFrame()
		switch {
		case n == 0 && eof:
			fmt.Fprintf(&sb, "  [%d] START\n", ts)
		case !eof:
			fmt.Fprintf(&sb, "  [%d] RX (no end of frame) [% X]\n", ts, rb.Bytes(start, n))
		default:
			fmt.Fprintf(&sb, "  [%d] RX %s\n", ts, FormatFrame(rb.Bytes(start, n)))
		}
	}
	return sb.String()
}

// FormatParseResult formats the outcome of parsing one subnet
func FormatParseResult(r *ParseResult) string {
	result := fmt.Sprintf("subnet %d: %d frames, %d dispatched", r.Subnet, r.Frames, r.Dispatched)
	if r.Unsolicited > 0 {
		result += fmt.Sprintf(", %d unsolicited", r.Unsolicited)
	}
	result += "\n"
	for _, f := range r.Faults {
		result += "  FAULT " + f.String() + "\n"
	}
	for _, w := range r.Warnings {
		result += fmt.Sprintf("  WARN  %s: %s\n", w.Device, w.Warning.Message)
	}
	return result
}

// FormatCycleReport formats a cycle report
func FormatCycleReport(r *CycleReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s cycle (%s)\n", r.Kind, r.Duration)
	for _, c := range r.Applied {
		fmt.Fprintf(&sb, "  applied %s\n", c)
	}
	for n, w := range r.Waits {
		if w != WaitCompleted {
			fmt.Fprintf(&sb, "  subnet %d: %s\n", n+MinSubnet, w)
		}
	}
	for i := range r.Results {
		res := &r.Results[i]
		if res.Frames == 0 && res.OK() {
			continue
		}
		sb.WriteString("  " + FormatParseResult(res))
	}
	for _, d := range r.TimedOut {
		fmt.Fprintf(&sb, "  TIMEOUT %s\n", d)
	}
	return sb.String()
}
