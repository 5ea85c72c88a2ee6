// Package psbtsign prepares backend PSBTs for the wallet, has them signed and
// turns the result into a broadcastable transaction.
package psbtsign

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/rs/zerolog"

	"btc-borrow/pkg/logger"
	"btc-borrow/pkg/wallet"
)

var (
	// ErrMalformedPsbt is returned when the PSBT cannot be decoded.
	ErrMalformedPsbt = errors.New("malformed psbt")

	// ErrSigning is returned when the wallet fails to sign.
	ErrSigning = errors.New("failed to sign transaction")

	// ErrFinalization is returned when a signed input cannot be finalized.
	ErrFinalization = errors.New("failed to finalize transaction")

	// ErrNoWallet is returned when signing is requested without a wallet.
	ErrNoWallet = errors.New("no wallet connected")
)

// Request describes one signing job.
type Request struct {
	PsbtBase64 string

	// SignInputs lists the inputs to sign. Empty means every input.
	SignInputs []int

	// Raw marks a PSBT without taproot metadata that must be prepared
	// with the wallet public key first.
	Raw bool
}

// Result holds the signed and extracted transaction.
type Result struct {
	Packet           *psbt.Packet
	SignedPsbtBase64 string
	RawTxHex         string
	TxID             string
}

// Signer signs backend PSBTs with a connected wallet.
type Signer struct {
	log zerolog.Logger
}

// NewSigner creates a signer logging to the package logger.
func NewSigner() *Signer {
	return &Signer{log: logger.Logger.With().Str("component", "psbtsign").Logger()}
}

// NewSignerWithLogger creates a signer with its own logger.
func NewSignerWithLogger(log zerolog.Logger) *Signer {
	return &Signer{log: log}
}

// Sign decodes req.PsbtBase64, has the wallet sign the requested inputs,
// finalizes them and extracts the network transaction.
func (s *Signer) Sign(ctx context.Context, req Request, h *wallet.Handle) (*Result, error) {
	if h == nil || h.Wallet == nil {
		return nil, ErrNoWallet
	}

	pkt, err := Decode(req.PsbtBase64)
	if err != nil {
		return nil, err
	}

	inputs, err := inputIndices(req.SignInputs, len(pkt.Inputs))
	if err != nil {
		return nil, err
	}

	if req.Raw && h.Caps.HasPublicKey {
		for _, idx := range inputs {
			if !InjectTaprootKey(pkt, idx, h.Caps.PublicKey) {
				s.log.Warn().Int("input", idx).Msg("public key too short, taproot metadata not injected")
			}
		}
	}

	s.log.Debug().Ints("inputs", inputs).Bool("raw", req.Raw).Str("wallet", h.Type).Msg("signing psbt")

	signed, err := h.Wallet.SignPsbt(ctx, pkt, inputs)
	if err != nil {
		if wallet.IsCancelled(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}

	if err := psbt.MaybeFinalizeAll(signed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFinalization, err)
	}

	tx, err := psbt.Extract(signed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFinalization, err)
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	encoded, err := signed.B64Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed psbt: %w", err)
	}

	res := &Result{
		Packet:           signed,
		SignedPsbtBase64: encoded,
		RawTxHex:         hex.EncodeToString(buf.Bytes()),
		TxID:             tx.TxHash().String(),
	}
	s.log.Info().Str("txid", res.TxID).Int("inputs", len(inputs)).Msg("psbt signed and finalized")

	return res, nil
}

// Decode parses a base64 PSBT.
func Decode(psbtBase64 string) (*psbt.Packet, error) {
	psbtBase64 = strings.TrimSpace(psbtBase64)
	if psbtBase64 == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedPsbt)
	}
	pkt, err := psbt.NewFromRawBytes(strings.NewReader(psbtBase64), true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPsbt, err)
	}
	return pkt, nil
}

func inputIndices(requested []int, n int) ([]int, error) {
	if len(requested) == 0 {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}

	seen := make(map[int]bool, len(requested))
	out := make([]int, 0, len(requested))
	for _, idx := range requested {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("%w: sign input %d out of range (%d inputs)", ErrMalformedPsbt, idx, n)
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out, nil
}

// XOnlyInternalKey derives the 32-byte x-only key from a wallet public key
// in hex. Keys shorter than 64 hex chars are rejected, 66-char compressed
// keys lose their prefix byte and anything else is cut to 64 chars.
func XOnlyInternalKey(pubHex string) ([]byte, bool) {
	var xonly string
	switch {
	case len(pubHex) < 64:
		return nil, false
	case len(pubHex) == 66:
		xonly = pubHex[2:]
	default:
		xonly = pubHex[:64]
	}

	key, err := hex.DecodeString(xonly)
	if err != nil {
		return nil, false
	}
	return key, true
}

// InjectTaprootKey sets the taproot internal key and the default sighash on
// input idx and drops its BIP-32 taproot derivations. It reports whether the
// key was injected.
func InjectTaprootKey(pkt *psbt.Packet, idx int, pubHex string) bool {
	if idx < 0 || idx >= len(pkt.Inputs) {
		return false
	}
	key, ok := XOnlyInternalKey(pubHex)
	if !ok {
		return false
	}

	in := &pkt.Inputs[idx]
	in.TaprootInternalKey = key
	in.SighashType = txscript.SigHashDefault
	in.TaprootBip32Derivation = nil
	return true
}
