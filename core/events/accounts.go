package events

import (
	"encoding/hex"

	"stratachain/crypto"
)

const (
	TypeAccountCreated = "accounts.created"
	TypeKeyRotated     = "accounts.key.rotated"
)

// AccountCreated is emitted when a previously unseen public key is bound to a
// freshly derived address.
type AccountCreated struct {
	Address   crypto.Address
	PublicKey []byte
}

// EventType implements the Event interface.
func (AccountCreated) EventType() string { return TypeAccountCreated }

// Attributes implements the Event interface.
func (e AccountCreated) Attributes() map[string]string {
	return map[string]string{
		"address":   e.Address.String(),
		"publicKey": hex.EncodeToString(e.PublicKey),
	}
}

// KeyRotated is emitted when an account's active public key is replaced after
// a successful possession proof.
type KeyRotated struct {
	Address crypto.Address
	OldKey  []byte
	NewKey  []byte
}

// EventType implements the Event interface.
func (KeyRotated) EventType() string { return TypeKeyRotated }

// Attributes implements the Event interface.
func (e KeyRotated) Attributes() map[string]string {
	return map[string]string{
		"address": e.Address.String(),
		"oldKey":  hex.EncodeToString(e.OldKey),
		"newKey":  hex.EncodeToString(e.NewKey),
	}
}
