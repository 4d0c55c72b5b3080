package crypto

import (
	"bytes"
	"errors"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestAddressDerivationIsDeterministic(t *testing.T) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub := priv.PubKey().Bytes()

	first, err := AddressFromPubKeyBytes(pub)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	second, err := AddressFromPubKeyBytes(pub)
	if err != nil {
		t.Fatalf("derive again: %v", err)
	}
	if !first.Equal(second) {
		t.Fatalf("derivation not deterministic: %s != %s", first, second)
	}
	if !first.Equal(priv.PubKey().Address()) {
		t.Fatalf("derivation disagrees with PublicKey.Address")
	}
}

func TestAddressDerivationCompressedMatchesUncompressed(t *testing.T) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	uncompressed := priv.PubKey().Bytes()
	compressed := ethcrypto.CompressPubkey(priv.PubKey().PublicKey)

	fromUncompressed, err := AddressFromPubKeyBytes(uncompressed)
	if err != nil {
		t.Fatalf("derive uncompressed: %v", err)
	}
	fromCompressed, err := AddressFromPubKeyBytes(compressed)
	if err != nil {
		t.Fatalf("derive compressed: %v", err)
	}
	if !fromUncompressed.Equal(fromCompressed) {
		t.Fatalf("encodings derive different addresses")
	}
}

func TestAddressDerivationDistinctKeys(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 16; i++ {
		priv, err := GeneratePrivateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		addr, err := AddressFromPubKeyBytes(priv.PubKey().Bytes())
		if err != nil {
			t.Fatalf("derive: %v", err)
		}
		key := string(addr.Bytes())
		if _, dup := seen[key]; dup {
			t.Fatalf("address collision for independently generated keys")
		}
		seen[key] = struct{}{}
	}
}

func TestAddressDerivationRejectsMalformedKeys(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		{0x04},
		bytes.Repeat([]byte{0x00}, 64),
		bytes.Repeat([]byte{0xff, 0x01}, 33), // 66 bytes
	}
	for _, pub := range cases {
		if _, err := AddressFromPubKeyBytes(pub); !errors.Is(err, ErrInvalidPublicKey) {
			t.Fatalf("expected ErrInvalidPublicKey for %d-byte input, got %v", len(pub), err)
		}
	}
}

func TestAddressBech32RoundTrip(t *testing.T) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := priv.PubKey().Address()

	encoded := addr.String()
	if encoded[:len(AddressHRP)] != AddressHRP {
		t.Fatalf("encoded address %q missing %q prefix", encoded, AddressHRP)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("round trip mismatch: %s != %s", decoded, addr)
	}
}

func TestSecp256k1VerifierRoundTrip(t *testing.T) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	digest := ethcrypto.Keccak256([]byte("possession proof"))
	sig, err := priv.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	verifier := Secp256k1Verifier{}
	if !verifier.Verify(priv.PubKey().Bytes(), digest, sig) {
		t.Fatal("valid signature rejected")
	}
	if verifier.Verify(priv.PubKey().Bytes(), ethcrypto.Keccak256([]byte("other")), sig) {
		t.Fatal("signature accepted for wrong digest")
	}

	other, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate second key: %v", err)
	}
	if verifier.Verify(other.PubKey().Bytes(), digest, sig) {
		t.Fatal("signature accepted for wrong key")
	}
}
