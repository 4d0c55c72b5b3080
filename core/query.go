package core

import (
	"stratachain/core/types"
	"stratachain/crypto"
)

// GetAccount returns the account currently bound to pubKey, or nil when the
// key resolves to nothing. Pure read: a key that was rotated away no longer
// resolves. Account visibility by public key is public information; no proof
// is required.
func (p *Processor) GetAccount(pubKey []byte) (*types.Account, error) {
	return p.accounts.GetByPubKey(pubKey)
}

// NonceOf returns the current nonce for addr.
func (p *Processor) NonceOf(addr crypto.Address) (uint64, error) {
	return p.accounts.Nonce(addr)
}
