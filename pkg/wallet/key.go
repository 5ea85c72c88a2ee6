package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"

	"btc-borrow/config"
	"btc-borrow/pkg/logger"
)

// KeyWallet signs with a single private key. It spends BIP-86 taproot
// outputs on the key path and P2WPKH outputs of that key.
type KeyWallet struct {
	key    *btcec.PrivateKey
	params *chaincfg.Params
	log    zerolog.Logger
}

// NewKeyWallet decodes a WIF private key for the given network.
func NewKeyWallet(wif string, params *chaincfg.Params) (*KeyWallet, error) {
	decoded, err := btcutil.DecodeWIF(wif)
	if err != nil {
		return nil, fmt.Errorf("invalid WIF key: %w", err)
	}
	if !decoded.IsForNet(params) {
		return nil, fmt.Errorf("WIF key is not for network %s", params.Name)
	}
	return NewKeyWalletFromKey(decoded.PrivKey, params), nil
}

// NewKeyWalletFromKey wraps an already decoded private key.
func NewKeyWalletFromKey(key *btcec.PrivateKey, params *chaincfg.Params) *KeyWallet {
	return &KeyWallet{
		key:    key,
		params: params,
		log:    logger.Logger.With().Str("wallet", config.WalletTypeWIF).Logger(),
	}
}

// PublicKey returns the compressed public key as hex.
func (k *KeyWallet) PublicKey() string {
	return hex.EncodeToString(k.key.PubKey().SerializeCompressed())
}

// PaymentAddress returns the BIP-86 taproot address of the key.
func (k *KeyWallet) PaymentAddress() string {
	addr, err := k.taprootAddress()
	if err != nil {
		return ""
	}
	return addr.EncodeAddress()
}

// Accounts returns the taproot and native segwit addresses of the key.
func (k *KeyWallet) Accounts(_ context.Context) ([]Account, error) {
	tr, err := k.taprootAddress()
	if err != nil {
		return nil, err
	}
	wpkh, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(k.key.PubKey().SerializeCompressed()), k.params,
	)
	if err != nil {
		return nil, err
	}

	pub := k.PublicKey()
	return []Account{
		{Address: tr.EncodeAddress(), PublicKey: pub},
		{Address: wpkh.EncodeAddress(), PublicKey: pub},
	}, nil
}

// SendTransaction is not supported: the key wallet has no coin selection.
func (k *KeyWallet) SendTransaction(context.Context, string, int64) (string, error) {
	return "", ErrSendUnsupported
}

// SignPsbt signs the requested inputs in place and returns the packet.
func (k *KeyWallet) SignPsbt(ctx context.Context, pkt *psbt.Packet, inputs []int) (*psbt.Packet, error) {
	fetcher, err := prevOutFetcher(pkt)
	if err != nil {
		return nil, err
	}
	sigHashes := txscript.NewTxSigHashes(pkt.UnsignedTx, fetcher)

	for _, idx := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if idx < 0 || idx >= len(pkt.Inputs) {
			return nil, fmt.Errorf("input %d out of range (%d inputs)", idx, len(pkt.Inputs))
		}

		utxo := fetcher.FetchPrevOutput(pkt.UnsignedTx.TxIn[idx].PreviousOutPoint)
		switch txscript.GetScriptClass(utxo.PkScript) {
		case txscript.WitnessV1TaprootTy:
			err = k.signTaproot(pkt, sigHashes, idx, utxo)
		case txscript.WitnessV0PubKeyHashTy:
			err = k.signWitnessV0(pkt, sigHashes, idx, utxo)
		default:
			err = fmt.Errorf("unsupported script type %s", txscript.GetScriptClass(utxo.PkScript))
		}
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", idx, err)
		}

		k.log.Debug().Int("input", idx).Msg("input signed")
	}

	return pkt, nil
}

// TaprootScript returns the BIP-86 key-path output script of internalKey.
func TaprootScript(internalKey *btcec.PublicKey) ([]byte, error) {
	outputKey := txscript.ComputeTaprootKeyNoScript(internalKey)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_1).
		AddData(schnorr.SerializePubKey(outputKey)).
		Script()
}

func (k *KeyWallet) signTaproot(pkt *psbt.Packet, sigHashes *txscript.TxSigHashes, idx int, utxo *wire.TxOut) error {
	in := &pkt.Inputs[idx]

	internalKey := schnorr.SerializePubKey(k.key.PubKey())
	if len(in.TaprootInternalKey) > 0 && !bytes.Equal(in.TaprootInternalKey, internalKey) {
		return fmt.Errorf("taproot internal key does not belong to this wallet")
	}

	script, err := TaprootScript(k.key.PubKey())
	if err != nil {
		return err
	}
	if !bytes.Equal(script, utxo.PkScript) {
		return fmt.Errorf("output is not spendable by this wallet")
	}

	sig, err := txscript.RawTxInTaprootSignature(
		pkt.UnsignedTx, sigHashes, idx, utxo.Value, utxo.PkScript,
		nil, in.SighashType, k.key,
	)
	if err != nil {
		return err
	}

	in.TaprootKeySpendSig = sig
	return nil
}

func (k *KeyWallet) signWitnessV0(pkt *psbt.Packet, sigHashes *txscript.TxSigHashes, idx int, utxo *wire.TxOut) error {
	in := &pkt.Inputs[idx]
	pub := k.key.PubKey().SerializeCompressed()

	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub), k.params)
	if err != nil {
		return err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return err
	}
	if !bytes.Equal(script, utxo.PkScript) {
		return fmt.Errorf("output is not spendable by this wallet")
	}

	hashType := in.SighashType
	if hashType == txscript.SigHashDefault {
		hashType = txscript.SigHashAll
	}

	sig, err := txscript.RawTxInWitnessSignature(
		pkt.UnsignedTx, sigHashes, idx, utxo.Value, utxo.PkScript,
		hashType, k.key,
	)
	if err != nil {
		return err
	}

	in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
		PubKey:    pub,
		Signature: sig,
	})
	return nil
}

func (k *KeyWallet) taprootAddress() (*btcutil.AddressTaproot, error) {
	outputKey := txscript.ComputeTaprootKeyNoScript(k.key.PubKey())
	return btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), k.params)
}

// prevOutFetcher collects the spent outputs of every input. Taproot sighashes
// commit to all of them.
func prevOutFetcher(pkt *psbt.Packet) (*txscript.MultiPrevOutFetcher, error) {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range pkt.UnsignedTx.TxIn {
		in := pkt.Inputs[i]
		switch {
		case in.WitnessUtxo != nil:
			fetcher.AddPrevOut(txIn.PreviousOutPoint, in.WitnessUtxo)

		case in.NonWitnessUtxo != nil:
			vout := txIn.PreviousOutPoint.Index
			if int(vout) >= len(in.NonWitnessUtxo.TxOut) {
				return nil, fmt.Errorf("input %d: previous output index %d out of range", i, vout)
			}
			fetcher.AddPrevOut(txIn.PreviousOutPoint, in.NonWitnessUtxo.TxOut[vout])

		default:
			return nil, fmt.Errorf("input %d: missing previous output", i)
		}
	}
	return fetcher, nil
}
