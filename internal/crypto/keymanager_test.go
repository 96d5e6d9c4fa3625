package crypto

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Well-known development key (hardhat account #0).
const (
	testKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	addr, err := KeyFileAddress(blob)
	if err != nil {
		t.Fatal(err)
	}
	if addr != testAddress {
		t.Fatalf("address = %s, want %s", addr, testAddress)
	}

	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if got != testKey {
		t.Fatalf("decrypted key mismatch")
	}

	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("expected error for wrong password")
	}
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	if _, err := EncryptKey(testKey, ""); err == nil {
		t.Fatal("expected error for empty password")
	}
	if _, err := EncryptKey("abcd", "pw"); err == nil {
		t.Fatal("expected error for short key")
	}
	if _, err := EncryptKey("zz"+testKey[2:], "pw"); err == nil {
		t.Fatal("expected error for non-hex key")
	}
}

func TestLoadKey(t *testing.T) {
	got, err := LoadKey(KeySource{RawPrivateKey: "0x" + testKey})
	if err != nil {
		t.Fatal(err)
	}
	if got != testKey {
		t.Fatalf("raw key = %s", got)
	}

	blob, err := EncryptKey(testKey, "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err = LoadKey(KeySource{EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil {
		t.Fatal(err)
	}
	if got != testKey {
		t.Fatalf("file key mismatch")
	}

	if _, err := LoadKey(KeySource{}); err == nil {
		t.Fatal("expected error with no source")
	}
}

func TestWalletSignTx(t *testing.T) {
	w, err := NewWallet(testKey, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.EqualFold(w.Address().Hex(), testAddress) {
		t.Fatalf("address = %s", w.Address().Hex())
	}

	to := common.HexToAddress("0x0000000000000000000000000000000000000001")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     0,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(0),
	})
	signed, err := w.SignTx(tx)
	if err != nil {
		t.Fatal(err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), signed)
	if err != nil {
		t.Fatal(err)
	}
	if from != w.Address() {
		t.Fatalf("recovered %s, want %s", from.Hex(), w.Address().Hex())
	}

	if _, err := NewWallet(testKey, 0); err == nil {
		t.Fatal("expected error for zero chain id")
	}
}
