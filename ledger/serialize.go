// Copyright (c) 2025 The Pebble developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Serialize encodes the full transaction — including signatures, public
// keys, and the id — using a little-endian, length-prefixed binary
// encoding. This is the on-disk/wire format; it is distinct from
// serializeForID, which blanks signing material.
func (tx *Transaction) Serialize() []byte {
	var buf bytes.Buffer
	buf.Write(tx.ID[:])

	writeVarInt(&buf, uint64(len(tx.Vin)))
	for _, in := range tx.Vin {
		buf.Write(in.PrevTxID[:])
		writeUint32(&buf, in.Vout)
		writeBytes(&buf, in.Signature)
		writeBytes(&buf, in.PubKey)
	}

	writeVarInt(&buf, uint64(len(tx.Vout)))
	for _, out := range tx.Vout {
		writeInt64(&buf, out.Value)
		buf.Write(out.PubKeyHash[:])
	}
	return buf.Bytes()
}

// DeserializeTransaction reverses Serialize.
func DeserializeTransaction(data []byte) (*Transaction, error) {
	r := bytes.NewReader(data)
	tx := &Transaction{}

	if _, err := io.ReadFull(r, tx.ID[:]); err != nil {
		return nil, fmt.Errorf("ledger: reading id: %w", err)
	}

	vinCount, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("ledger: reading vin count: %w", err)
	}
	tx.Vin = make([]TxInput, vinCount)
	for i := range tx.Vin {
		if _, err := io.ReadFull(r, tx.Vin[i].PrevTxID[:]); err != nil {
			return nil, fmt.Errorf("ledger: reading vin[%d].PrevTxID: %w", i, err)
		}
		vout, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("ledger: reading vin[%d].Vout: %w", i, err)
		}
		tx.Vin[i].Vout = vout
		sig, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("ledger: reading vin[%d].Signature: %w", i, err)
		}
		tx.Vin[i].Signature = sig
		pubKey, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("ledger: reading vin[%d].PubKey: %w", i, err)
		}
		tx.Vin[i].PubKey = pubKey
	}

	voutCount, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("ledger: reading vout count: %w", err)
	}
	tx.Vout = make([]TxOutput, voutCount)
	for i := range tx.Vout {
		value, err := readInt64(r)
		if err != nil {
			return nil, fmt.Errorf("ledger: reading vout[%d].Value: %w", i, err)
		}
		tx.Vout[i].Value = value
		if _, err := io.ReadFull(r, tx.Vout[i].PubKeyHash[:]); err != nil {
			return nil, fmt.Errorf("ledger: reading vout[%d].PubKeyHash: %w", i, err)
		}
	}

	return tx, nil
}

// SerializeOutputs encodes an ordered output list the way the chainstate
// tree stores a UTXO entry (tx_id -> outputs), including each output's
// InMempool reservation flag.
func SerializeOutputs(outputs []TxOutput) []byte {
	var buf bytes.Buffer
	writeVarInt(&buf, uint64(len(outputs)))
	for _, out := range outputs {
		writeInt64(&buf, out.Value)
		buf.Write(out.PubKeyHash[:])
		if out.InMempool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}

// DeserializeOutputs reverses SerializeOutputs.
func DeserializeOutputs(data []byte) ([]TxOutput, error) {
	r := bytes.NewReader(data)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("ledger: reading output count: %w", err)
	}
	outputs := make([]TxOutput, count)
	for i := range outputs {
		value, err := readInt64(r)
		if err != nil {
			return nil, fmt.Errorf("ledger: reading outputs[%d].Value: %w", i, err)
		}
		outputs[i].Value = value
		if _, err := io.ReadFull(r, outputs[i].PubKeyHash[:]); err != nil {
			return nil, fmt.Errorf("ledger: reading outputs[%d].PubKeyHash: %w", i, err)
		}
		flag, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("ledger: reading outputs[%d].InMempool: %w", i, err)
		}
		outputs[i].InMempool = flag != 0
	}
	return outputs, nil
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeVarInt(buf, uint64(len(b)))
	buf.Write(b)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

func readInt64(r *bytes.Reader) (int64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(tmp[:])), nil
}
