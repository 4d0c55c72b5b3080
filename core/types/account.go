package types

import "stratachain/crypto"

// Account is the logical account entity: the address derived at first contact,
// the currently active public key, and the next expected nonce. The state
// layer persists the pieces in separate maps but always reassembles them into
// this shape.
type Account struct {
	Address   crypto.Address
	PublicKey []byte
	Nonce     uint64
}
