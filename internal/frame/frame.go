// Package frame encodes and decodes HiSLIP wire messages: a fixed
// 16-byte header (prologue, message type, control code, parameter,
// payload length) plus an opaque payload. Stateless and safe for
// concurrent use.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed length of a HiSLIP message header in bytes.
const HeaderSize = 16

// MessageType identifies a HiSLIP message. Values follow the HiSLIP
// wire table exactly (0 Initialize .. 25 AsyncLockInfoResponse).
type MessageType uint8

const (
	Initialize MessageType = iota
	InitializeResponse
	FatalError
	Error
	AsyncLock
	AsyncLockResponse
	Data
	DataEnd
	DeviceClearComplete
	DeviceClearAcknowledge
	AsyncRemoteLocalControl
	AsyncRemoteLocalResponse
	Trigger
	Interrupted
	AsyncInterrupted
	AsyncMaximumMessageSize
	AsyncMaximumMessageSizeResponse
	AsyncInitialize
	AsyncInitializeResponse
	AsyncDeviceClear
	AsyncServiceRequest
	AsyncStatusQuery
	AsyncStatusResponse
	AsyncDeviceClearAcknowledge
	AsyncLockInfo
	AsyncLockInfoResponse

	maxMessageType // sentinel, one past the last valid type
)

var messageTypeNames = [...]string{
	"Initialize", "InitializeResponse", "FatalError", "Error",
	"AsyncLock", "AsyncLockResponse", "Data", "DataEnd",
	"DeviceClearComplete", "DeviceClearAcknowledge",
	"AsyncRemoteLocalControl", "AsyncRemoteLocalResponse",
	"Trigger", "Interrupted", "AsyncInterrupted",
	"AsyncMaximumMessageSize", "AsyncMaximumMessageSizeResponse",
	"AsyncInitialize", "AsyncInitializeResponse", "AsyncDeviceClear",
	"AsyncServiceRequest", "AsyncStatusQuery", "AsyncStatusResponse",
	"AsyncDeviceClearAcknowledge", "AsyncLockInfo", "AsyncLockInfoResponse",
}

func (t MessageType) String() string {
	if int(t) < len(messageTypeNames) {
		return messageTypeNames[t]
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

// ParamKind tags which shape a message's 4-byte parameter field takes.
// Most messages carry a single 32-bit unsigned integer; Initialize and
// InitializeResponse split it into two 16-bit subfields instead.
type ParamKind int

const (
	// ParamUint32 is the default encoding: one big-endian uint32.
	ParamUint32 ParamKind = iota
	// ParamPair is used only by Initialize/InitializeResponse: two
	// big-endian uint16 subfields (version/vendor, version/session).
	ParamPair
)

// Parameter is the tagged variant for the message_parameter wire field.
type Parameter struct {
	Kind ParamKind
	U32  uint32 // valid when Kind == ParamUint32
	Hi   uint16 // valid when Kind == ParamPair: first subfield
	Lo   uint16 // valid when Kind == ParamPair: second subfield
}

// NewUint32Param builds a plain 32-bit parameter.
func NewUint32Param(v uint32) Parameter { return Parameter{Kind: ParamUint32, U32: v} }

// NewPairParam builds a two-uint16 parameter, as used by Initialize and
// InitializeResponse.
func NewPairParam(hi, lo uint16) Parameter { return Parameter{Kind: ParamPair, Hi: hi, Lo: lo} }

// Header is a decoded HiSLIP message header.
type Header struct {
	Type          MessageType
	Control       uint8
	Parameter     Parameter
	PayloadLength uint64
}

// ErrMalformedHeader is returned when a header cannot be parsed: bad
// prologue, short buffer, or an unrecognized message type.
var ErrMalformedHeader = errors.New("frame: malformed header")

// isPairType reports whether typ uses the two-uint16 parameter encoding.
func isPairType(typ MessageType) bool {
	return typ == Initialize || typ == InitializeResponse
}

// Encode builds the wire representation of a message: header + payload.
func Encode(typ MessageType, control uint8, param Parameter, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0], buf[1] = 'H', 'S'
	buf[2] = byte(typ)
	buf[3] = control
	if param.Kind == ParamPair {
		binary.BigEndian.PutUint16(buf[4:6], param.Hi)
		binary.BigEndian.PutUint16(buf[6:8], param.Lo)
	} else {
		binary.BigEndian.PutUint32(buf[4:8], param.U32)
	}
	binary.BigEndian.PutUint64(buf[8:16], uint64(len(payload)))
	copy(buf[16:], payload)
	return buf
}

// DecodeHeader parses a 16-byte buffer into a Header. buf must be at
// least HeaderSize bytes; only the first HeaderSize bytes are read.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: short header (%d bytes)", ErrMalformedHeader, len(buf))
	}
	if buf[0] != 'H' || buf[1] != 'S' {
		return Header{}, fmt.Errorf("%w: bad prologue %q", ErrMalformedHeader, buf[0:2])
	}
	typ := MessageType(buf[2])
	if typ >= maxMessageType {
		return Header{}, fmt.Errorf("%w: unknown message type %d", ErrMalformedHeader, buf[2])
	}
	var param Parameter
	if isPairType(typ) {
		param = NewPairParam(binary.BigEndian.Uint16(buf[4:6]), binary.BigEndian.Uint16(buf[6:8]))
	} else {
		param = NewUint32Param(binary.BigEndian.Uint32(buf[4:8]))
	}
	return Header{
		Type:          typ,
		Control:       buf[3],
		Parameter:     param,
		PayloadLength: binary.BigEndian.Uint64(buf[8:16]),
	}, nil
}
