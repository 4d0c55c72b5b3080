package crypto

import "github.com/ethereum/go-ethereum/crypto"

// Verifier checks a signature against a public key and a 32-byte digest. The
// accounts engine treats signature verification as an injected capability so
// tests can substitute deterministic fakes.
type Verifier interface {
	Verify(pubKey, digest, signature []byte) bool
}

// Secp256k1Verifier verifies secp256k1 signatures as produced by
// PrivateKey.Sign. A trailing recovery byte, if present, is ignored.
type Secp256k1Verifier struct{}

func (Secp256k1Verifier) Verify(pubKey, digest, signature []byte) bool {
	if len(pubKey) != 33 && len(pubKey) != 65 {
		return false
	}
	if len(signature) == 65 {
		signature = signature[:64]
	}
	if len(signature) != 64 || len(digest) != 32 {
		return false
	}
	return crypto.VerifySignature(pubKey, digest, signature)
}
