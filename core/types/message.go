package types

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"stratachain/crypto"
)

// MsgType defines the purpose of a message.
type MsgType byte

const (
	MsgForward   MsgType = 0x01 // Opaque payload routed to a downstream module
	MsgUpdateKey MsgType = 0x02 // Rotate the account's active public key
)

func (t MsgType) String() string {
	switch t {
	case MsgForward:
		return "forward"
	case MsgUpdateKey:
		return "updateKey"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Message is the decoded envelope handed to the accounts engine by the outer
// dispatch layer. The sender is identified either by its public key (first
// contact and the common case) or, on the compact re-use path, by the already
// bound address. Exactly one of the two must be set.
type Message struct {
	Type          MsgType `json:"type"`
	SenderPubKey  []byte  `json:"senderPubKey,omitempty"`
	SenderAddress []byte  `json:"senderAddress,omitempty"`
	Nonce         uint64  `json:"nonce"`
	Payload       []byte  `json:"payload,omitempty"`
}

// UpdateKeyPayload is the decoded payload of a MsgUpdateKey message. The proof
// signature must cover RotationChallenge for the sender's address at the
// message nonce, signed with the private key matching NewPublicKey.
type UpdateKeyPayload struct {
	NewPublicKey   []byte `json:"newPublicKey"`
	ProofSignature []byte `json:"proofSignature"`
}

// EncodeUpdateKeyPayload serialises the rotation payload for embedding into a
// message envelope.
func EncodeUpdateKeyPayload(p *UpdateKeyPayload) ([]byte, error) {
	return json.Marshal(p)
}

// DecodeUpdateKeyPayload parses the payload of a MsgUpdateKey message.
func DecodeUpdateKeyPayload(raw []byte) (*UpdateKeyPayload, error) {
	payload := new(UpdateKeyPayload)
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("decode update-key payload: %w", err)
	}
	return payload, nil
}

var rotationDomain = []byte("strata/accounts/rotate/v1")

// RotationChallenge computes the 32-byte digest a rotation proof must sign.
// The digest is domain-separated over the address and the nonce at which the
// rotation executes, so a proof cannot be replayed across accounts or reused
// at a later nonce.
func RotationChallenge(addr crypto.Address, nonce uint64) []byte {
	buf := make([]byte, 0, len(rotationDomain)+crypto.AddressLength+8)
	buf = append(buf, rotationDomain...)
	buf = append(buf, addr.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	return ethcrypto.Keccak256(buf)
}

// SignRotation produces the possession proof for rotating addr's active key to
// newKey at the given nonce. Client-side tooling and tests use this helper;
// the engine only ever verifies.
func SignRotation(newKey *crypto.PrivateKey, addr crypto.Address, nonce uint64) ([]byte, error) {
	return newKey.Sign(RotationChallenge(addr, nonce))
}
