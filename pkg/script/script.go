// Package script classifies output locking scripts and derives their
// canonical address form for a given network.
package script

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Klingon-tech/coinpick/pkg/types"
)

// Script opcodes used in the standard templates.
const (
	opDup         = 0x76
	opHash160     = 0xa9
	opEqual       = 0x87
	opEqualVerify = 0x88
	opCheckSig    = 0xac
	opReturn      = 0x6a
	opData20      = 0x14
	opData32      = 0x20
	op0           = 0x00
	op1           = 0x51
)

// Classify returns the script type of a raw locking script.
func Classify(script []byte) types.ScriptType {
	switch {
	case isP2PKH(script):
		return types.ScriptP2PKH
	case isP2SH(script):
		return types.ScriptP2SH
	case isP2WPKH(script):
		return types.ScriptP2WPKH
	case isP2WSH(script):
		return types.ScriptP2WSH
	case isP2TR(script):
		return types.ScriptP2TR
	case len(script) > 0 && script[0] == opReturn:
		return types.ScriptOpReturn
	default:
		return types.ScriptUnknown
	}
}

// isP2PKH: OP_DUP OP_HASH160 <20> OP_EQUALVERIFY OP_CHECKSIG.
func isP2PKH(s []byte) bool {
	return len(s) == 25 &&
		s[0] == opDup && s[1] == opHash160 && s[2] == opData20 &&
		s[23] == opEqualVerify && s[24] == opCheckSig
}

// isP2SH: OP_HASH160 <20> OP_EQUAL.
func isP2SH(s []byte) bool {
	return len(s) == 23 && s[0] == opHash160 && s[1] == opData20 && s[22] == opEqual
}

// isP2WPKH: OP_0 <20>.
func isP2WPKH(s []byte) bool {
	return len(s) == 22 && s[0] == op0 && s[1] == opData20
}

// isP2WSH: OP_0 <32>.
func isP2WSH(s []byte) bool {
	return len(s) == 34 && s[0] == op0 && s[1] == opData32
}

// isP2TR: OP_1 <32>.
func isP2TR(s []byte) bool {
	return len(s) == 34 && s[0] == op1 && s[1] == opData32
}

// ExtractAddress derives the canonical address string embedded in a script,
// if the script type is address-encodable on the given network.
func ExtractAddress(script []byte, params *chaincfg.Params) (string, bool) {
	var (
		addr btcutil.Address
		err  error
	)
	switch {
	case isP2PKH(script):
		addr, err = btcutil.NewAddressPubKeyHash(script[3:23], params)
	case isP2SH(script):
		addr, err = btcutil.NewAddressScriptHashFromHash(script[2:22], params)
	case isP2WPKH(script):
		addr, err = btcutil.NewAddressWitnessPubKeyHash(script[2:22], params)
	case isP2WSH(script):
		addr, err = btcutil.NewAddressWitnessScriptHash(script[2:34], params)
	case isP2TR(script):
		addr, err = btcutil.NewAddressTaproot(script[2:34], params)
	default:
		return "", false
	}
	if err != nil {
		return "", false
	}
	return addr.EncodeAddress(), true
}

// ParamsForNetwork maps a network name from configuration to chain
// parameters. Unrecognised names fall back to regtest, matching the
// daemon's default network.
func ParamsForNetwork(network string) *chaincfg.Params {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams
	case "testnet":
		return &chaincfg.TestNet3Params
	case "signet":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.RegressionNetParams
	}
}
