// File: fake/coap.go
// Author: momentics <momentics@gmail.com>
//
// Minimal CoAP (RFC 7252) message codec: header, token, options, payload.

package fake

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/momentics/lwm2mux/api"
)

// MessageType is the CoAP message type.
type MessageType uint8

const (
	Confirmable     MessageType = 0
	NonConfirmable  MessageType = 1
	Acknowledgement MessageType = 2
	Reset           MessageType = 3
)

// Request method codes.
const (
	MethodGet    api.Status = 0x01
	MethodPost   api.Status = 0x02
	MethodPut    api.Status = 0x03
	MethodDelete api.Status = 0x04
)

// Option numbers used by LwM2M registration.
const (
	OptionLocationPath  uint16 = 8
	OptionURIPath       uint16 = 11
	OptionContentFormat uint16 = 12
	OptionURIQuery      uint16 = 15
)

// MediaLinkFormat is application/link-format.
const MediaLinkFormat api.MediaType = 40

const (
	coapVersion   = 1
	payloadMarker = 0xFF
	maxTokenLen   = 8
)

// Codec errors.
var (
	ErrShortMessage  = errors.New("coap: message too short")
	ErrBadVersion    = errors.New("coap: unsupported version")
	ErrBadToken      = errors.New("coap: invalid token length")
	ErrBadOption     = errors.New("coap: malformed option")
	ErrEmptyPayload  = errors.New("coap: payload marker without payload")
	ErrOptionTooLong = errors.New("coap: option value too long")
)

// Option is one CoAP option.
type Option struct {
	Number uint16
	Value  []byte
}

// Message is a decoded CoAP message.
type Message struct {
	Type      MessageType
	Code      api.Status
	MessageID uint16
	Token     []byte
	Options   []Option
	Payload   []byte
}

// AddOption appends an option; Marshal orders options by number.
func (m *Message) AddOption(number uint16, value []byte) {
	m.Options = append(m.Options, Option{Number: number, Value: value})
}

// SetPath replaces the Uri-Path options with the segments of path.
func (m *Message) SetPath(path string) {
	m.removeOption(OptionURIPath)
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg != "" {
			m.AddOption(OptionURIPath, []byte(seg))
		}
	}
}

// AddQuery appends a Uri-Query option.
func (m *Message) AddQuery(q string) {
	m.AddOption(OptionURIQuery, []byte(q))
}

// OptionValues returns the values of all options with number, in order.
func (m *Message) OptionValues(number uint16) []string {
	var out []string
	for _, o := range m.Options {
		if o.Number == number {
			out = append(out, string(o.Value))
		}
	}
	return out
}

// Path returns the Uri-Path segments.
func (m *Message) Path() []string { return m.OptionValues(OptionURIPath) }

// Query returns the Uri-Query values keyed by name ("ep=x" gives ep -> x).
func (m *Message) Query() map[string]string {
	out := make(map[string]string)
	for _, q := range m.OptionValues(OptionURIQuery) {
		k, v, _ := strings.Cut(q, "=")
		out[k] = v
	}
	return out
}

func (m *Message) removeOption(number uint16) {
	kept := m.Options[:0]
	for _, o := range m.Options {
		if o.Number != number {
			kept = append(kept, o)
		}
	}
	m.Options = kept
}

// Marshal encodes the message.
func (m *Message) Marshal() ([]byte, error) {
	if len(m.Token) > maxTokenLen {
		return nil, ErrBadToken
	}
	out := make([]byte, 4, 4+len(m.Token)+len(m.Payload)+16)
	out[0] = coapVersion<<6 | byte(m.Type&0x3)<<4 | byte(len(m.Token))
	out[1] = byte(m.Code)
	binary.BigEndian.PutUint16(out[2:], m.MessageID)
	out = append(out, m.Token...)

	opts := make([]Option, len(m.Options))
	copy(opts, m.Options)
	sort.SliceStable(opts, func(i, j int) bool { return opts[i].Number < opts[j].Number })

	var prev uint16
	for _, o := range opts {
		if len(o.Value) > 0xFFFF+269 {
			return nil, ErrOptionTooLong
		}
		delta := int(o.Number - prev)
		prev = o.Number
		dn, dext := optionNibble(delta)
		ln, lext := optionNibble(len(o.Value))
		out = append(out, byte(dn<<4|ln))
		out = append(out, dext...)
		out = append(out, lext...)
		out = append(out, o.Value...)
	}

	if len(m.Payload) > 0 {
		out = append(out, payloadMarker)
		out = append(out, m.Payload...)
	}
	return out, nil
}

func optionNibble(v int) (int, []byte) {
	switch {
	case v < 13:
		return v, nil
	case v < 269:
		return 13, []byte{byte(v - 13)}
	default:
		ext := make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(v-269))
		return 14, ext
	}
}

// ParseMessage decodes b. Option and payload slices alias b.
func ParseMessage(b []byte) (*Message, error) {
	if len(b) < 4 {
		return nil, ErrShortMessage
	}
	if b[0]>>6 != coapVersion {
		return nil, ErrBadVersion
	}
	tkl := int(b[0] & 0x0F)
	if tkl > maxTokenLen || len(b) < 4+tkl {
		return nil, ErrBadToken
	}
	m := &Message{
		Type:      MessageType(b[0] >> 4 & 0x3),
		Code:      api.Status(b[1]),
		MessageID: binary.BigEndian.Uint16(b[2:4]),
		Token:     b[4 : 4+tkl],
	}

	rest := b[4+tkl:]
	var number int
	for len(rest) > 0 {
		if rest[0] == payloadMarker {
			if len(rest) == 1 {
				return nil, ErrEmptyPayload
			}
			m.Payload = rest[1:]
			return m, nil
		}
		dn, ln := int(rest[0]>>4), int(rest[0]&0x0F)
		rest = rest[1:]
		var (
			delta, length int
			err           error
		)
		if delta, rest, err = readExtended(dn, rest); err != nil {
			return nil, err
		}
		if length, rest, err = readExtended(ln, rest); err != nil {
			return nil, err
		}
		if len(rest) < length {
			return nil, fmt.Errorf("%w: value of %d bytes exceeds message", ErrBadOption, length)
		}
		number += delta
		if number > 0xFFFF {
			return nil, ErrBadOption
		}
		m.Options = append(m.Options, Option{Number: uint16(number), Value: rest[:length]})
		rest = rest[length:]
	}
	return m, nil
}

func readExtended(nibble int, b []byte) (int, []byte, error) {
	switch nibble {
	case 13:
		if len(b) < 1 {
			return 0, nil, ErrBadOption
		}
		return int(b[0]) + 13, b[1:], nil
	case 14:
		if len(b) < 2 {
			return 0, nil, ErrBadOption
		}
		return int(binary.BigEndian.Uint16(b)) + 269, b[2:], nil
	case 15:
		return 0, nil, ErrBadOption
	default:
		return nibble, b, nil
	}
}
