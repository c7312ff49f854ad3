// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wire implements pebble's P2P message set and framing (spec
// §4.10): a stream of self-describing, length-prefixed messages,
// discriminated by a fixed-width command tag in the style of the
// teacher's bitcoin wire package, with big-endian numbers where hashed
// and little-endian everywhere else, per spec §6.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// commandSize is the fixed width, in bytes, of a message's command tag,
// NUL-padded — matching the teacher's wire.CommandSize convention.
const commandSize = 12

// MaxPayloadSize bounds a single message's payload, guarding against a
// misbehaving peer claiming an enormous length prefix.
const MaxPayloadSize = 32 * 1024 * 1024

// Command tags for pebble's message set (spec §4.10).
const (
	CmdVersion     = "version"
	CmdKnownNodes  = "knownnodes"
	CmdGetBlocks   = "getblocks"
	CmdInv         = "inv"
	CmdGetData     = "getdata"
	CmdBlock       = "block"
	CmdTx          = "tx"
	CmdSendBitcoin = "sendbitcoin"
	CmdMessage     = "message"
	CmdAdminQuery  = "adminquery"
)

// ErrInvalidCommand is returned when a frame's command tag does not match
// any known message type.
var ErrInvalidCommand = errors.New("wire: unrecognized command")

// ErrPayloadTooLarge is returned when a frame's declared length exceeds
// MaxPayloadSize.
var ErrPayloadTooLarge = errors.New("wire: payload exceeds maximum size")

// Message is implemented by every type in pebble's wire protocol: it
// knows its own command tag and how to encode/decode its payload.
type Message interface {
	Command() string
	Encode(w io.Writer) error
	Decode(r io.Reader) error
}

// makeEmptyMessage returns a zero-valued message for the given command
// tag, so ReadMessage can decode into the right concrete type — the same
// dispatch-by-command idiom as the teacher's wire.makeEmptyMessage.
func makeEmptyMessage(command string) (Message, error) {
	switch command {
	case CmdVersion:
		return &VersionMsg{}, nil
	case CmdKnownNodes:
		return &KnownNodesMsg{}, nil
	case CmdGetBlocks:
		return &GetBlocksMsg{}, nil
	case CmdInv:
		return &InvMsg{}, nil
	case CmdGetData:
		return &GetDataMsg{}, nil
	case CmdBlock:
		return &BlockMsg{}, nil
	case CmdTx:
		return &TxMsg{}, nil
	case CmdSendBitcoin:
		return &SendBitcoinMsg{}, nil
	case CmdMessage:
		return &StatusMessage{}, nil
	case CmdAdminQuery:
		return &AdminQueryMsg{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidCommand, command)
	}
}

// WriteMessage frames msg onto w: a NUL-padded command tag, a
// little-endian uint32 payload length, then the encoded payload.
func WriteMessage(w io.Writer, msg Message) error {
	var payload bytes.Buffer
	if err := msg.Encode(&payload); err != nil {
		return fmt.Errorf("wire: encoding %s: %w", msg.Command(), err)
	}

	var header [commandSize + 4]byte
	copy(header[:commandSize], msg.Command())
	binary.LittleEndian.PutUint32(header[commandSize:], uint32(payload.Len()))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: writing header: %w", err)
	}
	if _, err := w.Write(payload.Bytes()); err != nil {
		return fmt.Errorf("wire: writing payload: %w", err)
	}
	return nil
}

// ReadMessage reads one framed message from r. A clean io.EOF at a frame
// boundary is returned unwrapped so callers can treat it as end-of-session
// (spec §4.10: "the parser tolerates stream EOF as end-of-session").
func ReadMessage(r io.Reader) (Message, error) {
	var header [commandSize + 4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wire: reading header: %w", err)
	}

	command := trimTrailingNUL(header[:commandSize])
	length := binary.LittleEndian.Uint32(header[commandSize:])
	if length > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: reading payload: %w", err)
	}

	msg, err := makeEmptyMessage(command)
	if err != nil {
		return nil, err
	}
	if err := msg.Decode(bytes.NewReader(payload)); err != nil {
		return nil, fmt.Errorf("wire: decoding %s: %w", command, err)
	}
	return msg, nil
}

func trimTrailingNUL(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
