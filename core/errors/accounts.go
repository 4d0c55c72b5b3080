package errors

import stderrors "errors"

var (
	ErrUnknownAddress        = stderrors.New("accounts: unknown address")
	ErrNonceMismatch         = stderrors.New("accounts: nonce mismatch")
	ErrPublicKeyAlreadyBound = stderrors.New("accounts: public key already bound to another address")
	ErrAddressAlreadyExists  = stderrors.New("accounts: address already exists")
	ErrInvalidKeyProof       = stderrors.New("accounts: invalid key rotation proof")
)
