package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressHRP is the human-readable bech32 prefix for Strata addresses.
const AddressHRP = "str"

// AddressLength is the fixed byte width of a Strata address.
const AddressLength = 20

// ErrInvalidPublicKey is returned when key bytes are malformed or not a valid
// point on the secp256k1 curve. Derivation rejects before any state is read.
var ErrInvalidPublicKey = errors.New("crypto: invalid public key")

// Address represents a 20-byte Strata account address.
type Address struct {
	bytes []byte
}

func NewAddress(b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	return Address{bytes: append([]byte(nil), b...)}
}

// AddressFromBytes validates the raw width and wraps the bytes into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("invalid address length %d", len(b))
	}
	return NewAddress(b), nil
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressHRP, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// IsZero reports whether the address is the unset zero value.
func (a Address) IsZero() bool {
	return len(a.bytes) == 0
}

// Equal compares two addresses byte-wise.
func (a Address) Equal(other Address) bool {
	return bytes.Equal(a.bytes, other.bytes)
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != AddressHRP {
		return Address{}, fmt.Errorf("unsupported address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return AddressFromBytes(conv)
}

// AddressFromPubKeyBytes derives the account address bound to the provided
// public key: keccak256 of the 64-byte curve point, truncated to the low 20
// bytes. The mapping is protocol-frozen; changing it is consensus-breaking.
//
// Both 65-byte uncompressed and 33-byte compressed encodings are accepted and
// derive the same address.
func AddressFromPubKeyBytes(pub []byte) (Address, error) {
	key, err := decodePubKey(pub)
	if err != nil {
		return Address{}, err
	}
	return NewAddress(crypto.PubkeyToAddress(*key).Bytes()), nil
}

func decodePubKey(pub []byte) (*ecdsa.PublicKey, error) {
	switch len(pub) {
	case 65:
		key, err := crypto.UnmarshalPubkey(pub)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		return key, nil
	case 33:
		key, err := crypto.DecompressPubkey(pub)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(pub))
	}
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

func (k *PublicKey) Address() Address {
	return NewAddress(crypto.PubkeyToAddress(*k.PublicKey).Bytes())
}

// Bytes returns the uncompressed 65-byte encoding of the public key.
func (k *PublicKey) Bytes() []byte {
	return crypto.FromECDSAPub(k.PublicKey)
}

// CompressedBytes returns the 33-byte compressed encoding of the public key.
func (k *PublicKey) CompressedBytes() []byte {
	return crypto.CompressPubkey(k.PublicKey)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Sign produces a 65-byte [R || S || V] signature over the 32-byte digest.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, k.PrivateKey)
}
