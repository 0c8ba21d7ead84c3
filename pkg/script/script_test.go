package script

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Klingon-tech/coinpick/pkg/types"
)

func hash20(b byte) []byte {
	out := make([]byte, 20)
	for i := range out {
		out[i] = b
	}
	return out
}

func hash32(b byte) []byte {
	out := make([]byte, 32)
	for i := range out {
		out[i] = b
	}
	return out
}

func p2pkhScript(b byte) []byte {
	s := []byte{0x76, 0xa9, 0x14}
	s = append(s, hash20(b)...)
	return append(s, 0x88, 0xac)
}

func p2shScript(b byte) []byte {
	s := []byte{0xa9, 0x14}
	s = append(s, hash20(b)...)
	return append(s, 0x87)
}

func p2wpkhScript(b byte) []byte {
	return append([]byte{0x00, 0x14}, hash20(b)...)
}

func p2wshScript(b byte) []byte {
	return append([]byte{0x00, 0x20}, hash32(b)...)
}

func p2trScript(b byte) []byte {
	return append([]byte{0x51, 0x20}, hash32(b)...)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		script []byte
		want   types.ScriptType
	}{
		{"p2pkh", p2pkhScript(1), types.ScriptP2PKH},
		{"p2sh", p2shScript(1), types.ScriptP2SH},
		{"p2wpkh", p2wpkhScript(1), types.ScriptP2WPKH},
		{"p2wsh", p2wshScript(1), types.ScriptP2WSH},
		{"p2tr", p2trScript(1), types.ScriptP2TR},
		{"op_return", []byte{0x6a, 0x04, 0xde, 0xad, 0xbe, 0xef}, types.ScriptOpReturn},
		{"empty", nil, types.ScriptUnknown},
		{"garbage", []byte{0x51, 0x51}, types.ScriptUnknown},
		{"short p2wpkh", []byte{0x00, 0x14, 0x01}, types.ScriptUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.script); got != tt.want {
			t.Errorf("Classify(%s) = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestExtractAddress(t *testing.T) {
	regtest := &chaincfg.RegressionNetParams
	mainnet := &chaincfg.MainNetParams

	tests := []struct {
		name   string
		script []byte
		params *chaincfg.Params
		prefix string
	}{
		{"p2pkh mainnet", p2pkhScript(1), mainnet, "1"},
		{"p2sh mainnet", p2shScript(1), mainnet, "3"},
		{"p2wpkh mainnet", p2wpkhScript(1), mainnet, "bc1q"},
		{"p2wsh mainnet", p2wshScript(1), mainnet, "bc1q"},
		{"p2tr mainnet", p2trScript(1), mainnet, "bc1p"},
		{"p2wpkh regtest", p2wpkhScript(1), regtest, "bcrt1q"},
		{"p2tr regtest", p2trScript(1), regtest, "bcrt1p"},
	}
	for _, tt := range tests {
		addr, ok := ExtractAddress(tt.script, tt.params)
		if !ok {
			t.Errorf("%s: not address-encodable", tt.name)
			continue
		}
		if !strings.HasPrefix(addr, tt.prefix) {
			t.Errorf("%s: address %q lacks prefix %q", tt.name, addr, tt.prefix)
		}
	}
}

func TestExtractAddress_NonEncodable(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	for _, script := range [][]byte{
		{0x6a, 0x01, 0xff}, // op_return
		{0x51, 0x51},       // unknown
		nil,
	} {
		if addr, ok := ExtractAddress(script, params); ok {
			t.Errorf("script %x yielded address %q", script, addr)
		}
	}
}

func TestExtractAddress_DeterministicPerNetwork(t *testing.T) {
	a1, _ := ExtractAddress(p2wpkhScript(7), &chaincfg.RegressionNetParams)
	a2, _ := ExtractAddress(p2wpkhScript(7), &chaincfg.RegressionNetParams)
	if a1 != a2 {
		t.Error("address derivation not deterministic")
	}
	m, _ := ExtractAddress(p2wpkhScript(7), &chaincfg.MainNetParams)
	if m == a1 {
		t.Error("network does not affect encoding")
	}
}

func TestParamsForNetwork(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"mainnet", chaincfg.MainNetParams.Name},
		{"testnet", chaincfg.TestNet3Params.Name},
		{"signet", chaincfg.SigNetParams.Name},
		{"regtest", chaincfg.RegressionNetParams.Name},
		{"", chaincfg.RegressionNetParams.Name},
		{"weird", chaincfg.RegressionNetParams.Name},
	}
	for _, tt := range tests {
		if got := ParamsForNetwork(tt.in); got.Name != tt.want {
			t.Errorf("ParamsForNetwork(%q) = %s, want %s", tt.in, got.Name, tt.want)
		}
	}
}
