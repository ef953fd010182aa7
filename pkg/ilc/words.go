// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

// WordKind classifies a FIFO word by its command nibble
type WordKind int

// Word kinds
const (
	WordUnknown WordKind = iota
	WordTxByte
	WordEndOfFrame
	WordTxTimestamp
	WordDelay
	WordLongDelay
	WordWaitForRx
	WordTriggerIRQ
	WordWaitForTrigger
	WordWaitForLongRx
	WordRxByte
	WordRxEndOfFrame
	WordRxTimestamp
)

// ClassifyCommandWord returns the kind of a command FIFO word
func ClassifyCommandWord(w uint16) WordKind {
	if w == cmdEndOfFrame {
		return WordEndOfFrame
	}
	switch w & cmdMask {
	case cmdWrite:
		return WordTxByte
	case cmdTxTimestamp:
		return WordTxTimestamp
	case cmdDelay:
		return WordDelay
	case cmdLongDelay:
		return WordLongDelay
	case cmdWaitForRx:
		return WordWaitForRx
	case cmdTriggerIRQ:
		return WordTriggerIRQ
	case cmdWaitForTrigger:
		return WordWaitForTrigger
	case cmdWaitForLongRx:
		return WordWaitForLongRx
	}
	return WordUnknown
}

// ClassifyResponseWord returns the kind of a response FIFO word
func ClassifyResponseWord(w uint16) WordKind {
	switch w & cmdMask {
	case rxDataCommand:
		return WordRxByte
	case rxEndOfFrame:
		return WordRxEndOfFrame
	case rxTimestamp:
		return WordRxTimestamp
	}
	return WordUnknown
}

// WordArgument returns the 12-bit argument of a control instruction
func WordArgument(w uint16) uint16 {
	return w & cmdArgumentMask
}

// EncodeTxByte returns the command word transmitting b
func EncodeTxByte(b byte) uint16 {
	return encodeTxByte(b)
}

// EncodeRxByte returns the response word carrying b
func EncodeRxByte(b byte) uint16 {
	return encodeRxByte(b)
}

// DecodeByte extracts the payload byte of a tx or rx data word
func DecodeByte(w uint16) byte {
	return decodeByte(w)
}

// RxEndOfFrameWord is the response word closing a received frame
const RxEndOfFrameWord = rxEndOfFrame

// EncodeRxTimestamp returns the 8 response words carrying ts
func EncodeRxTimestamp(ts uint64) []uint16 {
	words := make([]uint16, rxTimestampWords)
	for i := range words {
		words[i] = rxTimestamp | uint16(byte(ts>>(8*uint(i))))
	}
	return words
}

func encodeTxByte(b byte) uint16 {
	return cmdWrite | cmdStopBit | uint16(b)<<1
}

func encodeRxByte(b byte) uint16 {
	return rxDataCommand | cmdStopBit | uint16(b)<<1
}

func decodeByte(w uint16) byte {
	return byte((w & cmdDataMask) >> 1)
}

func isRxData(w uint16) bool {
	return w&cmdMask == rxDataCommand
}
