package swapdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
)

var byteOrder = binary.BigEndian

// maxBigIntLen bounds deserialized big integers. Token amounts fit
// comfortably; anything larger is a corrupt record.
const maxBigIntLen = 64

func writeBigInt(w io.Writer, v *big.Int) error {
	if v == nil {
		v = new(big.Int)
	}

	return wire.WriteVarBytes(w, 0, v.Bytes())
}

func readBigInt(r io.Reader) (*big.Int, error) {
	b, err := wire.ReadVarBytes(r, 0, maxBigIntLen, "bigint")
	if err != nil {
		return nil, err
	}

	return new(big.Int).SetBytes(b), nil
}

func writeTime(w io.Writer, t time.Time) error {
	var ns int64
	if !t.IsZero() {
		ns = t.UnixNano()
	}

	return binary.Write(w, byteOrder, ns)
}

func readTime(r io.Reader) (time.Time, error) {
	var ns int64
	if err := binary.Read(r, byteOrder, &ns); err != nil {
		return time.Time{}, err
	}
	if ns == 0 {
		return time.Time{}, nil
	}

	return time.Unix(0, ns), nil
}

func writeBool(w io.Writer, v bool) error {
	var b byte
	if v {
		b = 1
	}

	return binary.Write(w, byteOrder, b)
}

func readBool(r io.Reader) (bool, error) {
	var b byte
	if err := binary.Read(r, byteOrder, &b); err != nil {
		return false, err
	}

	return b != 0, nil
}

func serializeContractBase(w io.Writer, c *SwapContract) error {
	if err := wire.WriteVarString(w, 0, c.ChainID); err != nil {
		return err
	}
	if _, err := w.Write(c.Hash[:]); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, c.Sequence); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, int8(c.State)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, int64(c.SwapFee)); err != nil {
		return err
	}
	if err := writeBigInt(w, c.SwapFeeToken); err != nil {
		return err
	}

	if err := binary.Write(w, byteOrder, uint32(len(c.TxIDs))); err != nil {
		return err
	}
	for phase, txid := range c.TxIDs {
		if err := wire.WriteVarString(w, 0, phase); err != nil {
			return err
		}
		if err := wire.WriteVarString(w, 0, txid); err != nil {
			return err
		}
	}

	err := binary.Write(w, byteOrder, uint32(len(c.Timestamps)))
	if err != nil {
		return err
	}
	for phase, ts := range c.Timestamps {
		if err := wire.WriteVarString(w, 0, phase); err != nil {
			return err
		}
		if err := writeTime(w, ts); err != nil {
			return err
		}
	}

	if err := writeTime(w, c.InitiationTime); err != nil {
		return err
	}

	return writeTime(w, c.LastUpdateTime)
}

func deserializeContractBase(r io.Reader) (*SwapContract, error) {
	var c SwapContract

	var err error
	c.ChainID, err = wire.ReadVarString(r, 0)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, c.Hash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(r, byteOrder, &c.Sequence); err != nil {
		return nil, err
	}

	var state int8
	if err := binary.Read(r, byteOrder, &state); err != nil {
		return nil, err
	}
	c.State = SwapState(state)

	var fee int64
	if err := binary.Read(r, byteOrder, &fee); err != nil {
		return nil, err
	}
	c.SwapFee = btcutil.Amount(fee)

	c.SwapFeeToken, err = readBigInt(r)
	if err != nil {
		return nil, err
	}

	var numTxIDs uint32
	if err := binary.Read(r, byteOrder, &numTxIDs); err != nil {
		return nil, err
	}
	c.TxIDs = make(map[string]string, numTxIDs)
	for i := uint32(0); i < numTxIDs; i++ {
		phase, err := wire.ReadVarString(r, 0)
		if err != nil {
			return nil, err
		}
		txid, err := wire.ReadVarString(r, 0)
		if err != nil {
			return nil, err
		}
		c.TxIDs[phase] = txid
	}

	var numTimestamps uint32
	if err := binary.Read(r, byteOrder, &numTimestamps); err != nil {
		return nil, err
	}
	c.Timestamps = make(map[string]time.Time, numTimestamps)
	for i := uint32(0); i < numTimestamps; i++ {
		phase, err := wire.ReadVarString(r, 0)
		if err != nil {
			return nil, err
		}
		ts, err := readTime(r)
		if err != nil {
			return nil, err
		}
		c.Timestamps[phase] = ts
	}

	c.InitiationTime, err = readTime(r)
	if err != nil {
		return nil, err
	}
	c.LastUpdateTime, err = readTime(r)
	if err != nil {
		return nil, err
	}

	return &c, nil
}

func serializeEscrowData(w io.Writer, e *EscrowData) error {
	if _, err := w.Write(e.Payer[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.Payee[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.Token[:]); err != nil {
		return err
	}
	if err := writeBigInt(w, e.Amount); err != nil {
		return err
	}
	if _, err := w.Write(e.ClaimHash[:]); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, e.Sequence); err != nil {
		return err
	}

	return binary.Write(w, byteOrder, e.Expiry)
}

func deserializeEscrowData(r io.Reader) (*EscrowData, error) {
	var e EscrowData

	if _, err := io.ReadFull(r, e.Payer[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, e.Payee[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, e.Token[:]); err != nil {
		return nil, err
	}

	var err error
	e.Amount, err = readBigInt(r)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, e.ClaimHash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(r, byteOrder, &e.Sequence); err != nil {
		return nil, err
	}
	if err := binary.Read(r, byteOrder, &e.Expiry); err != nil {
		return nil, err
	}

	return &e, nil
}

// serializeLightningReceive encodes a full lightning receive contract.
func serializeLightningReceive(c *LightningReceiveContract) ([]byte, error) {
	var b bytes.Buffer

	if err := serializeContractBase(&b, &c.SwapContract); err != nil {
		return nil, err
	}

	if err := wire.WriteVarString(&b, 0, c.Invoice); err != nil {
		return nil, err
	}
	if _, err := b.Write(c.Claimer[:]); err != nil {
		return nil, err
	}
	if _, err := b.Write(c.OutputToken[:]); err != nil {
		return nil, err
	}
	if err := writeBigInt(&b, c.TotalToken); err != nil {
		return nil, err
	}
	if _, err := b.Write(c.DepositToken[:]); err != nil {
		return nil, err
	}
	if err := writeBigInt(&b, c.SecurityDeposit); err != nil {
		return nil, err
	}
	if err := binary.Write(&b, byteOrder, c.ExpirySeconds); err != nil {
		return nil, err
	}

	if err := writeBool(&b, c.Escrow != nil); err != nil {
		return nil, err
	}
	if c.Escrow != nil {
		if err := serializeEscrowData(&b, c.Escrow); err != nil {
			return nil, err
		}
	}

	if err := writeBool(&b, c.InitAuth != nil); err != nil {
		return nil, err
	}
	if c.InitAuth != nil {
		err := wire.WriteVarString(&b, 0, c.InitAuth.Prefix)
		if err != nil {
			return nil, err
		}
		err = binary.Write(&b, byteOrder, c.InitAuth.Timeout)
		if err != nil {
			return nil, err
		}
		err = wire.WriteVarBytes(&b, 0, c.InitAuth.Signature)
		if err != nil {
			return nil, err
		}
	}

	if err := writeTime(&b, c.AuthExpiry); err != nil {
		return nil, err
	}
	if err := binary.Write(&b, byteOrder, c.HtlcExpiryHeight); err != nil {
		return nil, err
	}

	if err := writeBool(&b, c.Preimage != nil); err != nil {
		return nil, err
	}
	if c.Preimage != nil {
		if _, err := b.Write(c.Preimage[:]); err != nil {
			return nil, err
		}
	}

	return b.Bytes(), nil
}

// deserializeLightningReceive decodes a contract previously encoded with
// serializeLightningReceive.
func deserializeLightningReceive(value []byte) (*LightningReceiveContract,
	error) {

	r := bytes.NewReader(value)

	base, err := deserializeContractBase(r)
	if err != nil {
		return nil, fmt.Errorf("contract base: %w", err)
	}

	c := LightningReceiveContract{
		SwapContract: *base,
	}

	c.Invoice, err = wire.ReadVarString(r, 0)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, c.Claimer[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, c.OutputToken[:]); err != nil {
		return nil, err
	}
	c.TotalToken, err = readBigInt(r)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, c.DepositToken[:]); err != nil {
		return nil, err
	}
	c.SecurityDeposit, err = readBigInt(r)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(r, byteOrder, &c.ExpirySeconds); err != nil {
		return nil, err
	}

	hasEscrow, err := readBool(r)
	if err != nil {
		return nil, err
	}
	if hasEscrow {
		c.Escrow, err = deserializeEscrowData(r)
		if err != nil {
			return nil, err
		}
	}

	hasAuth, err := readBool(r)
	if err != nil {
		return nil, err
	}
	if hasAuth {
		var auth InitAuthorization
		auth.Prefix, err = wire.ReadVarString(r, 0)
		if err != nil {
			return nil, err
		}
		err = binary.Read(r, byteOrder, &auth.Timeout)
		if err != nil {
			return nil, err
		}
		auth.Signature, err = wire.ReadVarBytes(
			r, 0, maxSignatureLen, "signature",
		)
		if err != nil {
			return nil, err
		}
		c.InitAuth = &auth
	}

	c.AuthExpiry, err = readTime(r)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(r, byteOrder, &c.HtlcExpiryHeight); err != nil {
		return nil, err
	}

	hasPreimage, err := readBool(r)
	if err != nil {
		return nil, err
	}
	if hasPreimage {
		var preimage lntypes.Preimage
		if _, err := io.ReadFull(r, preimage[:]); err != nil {
			return nil, err
		}
		c.Preimage = &preimage
	}

	return &c, nil
}

// maxSignatureLen bounds deserialized authorization signatures.
const maxSignatureLen = 1024

// swapKey returns the storage key for a record: hash followed by the big
// endian sequence number.
func swapKey(hash lntypes.Hash, sequence uint64) []byte {
	key := make([]byte, len(hash)+8)
	copy(key, hash[:])
	byteOrder.PutUint64(key[len(hash):], sequence)

	return key
}
