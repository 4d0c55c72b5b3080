package state

import (
	"bytes"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	coreerrors "stratachain/core/errors"
	"stratachain/core/types"
	"stratachain/crypto"
	"stratachain/storage"
)

var (
	accountPrefix    = []byte("accounts:")
	addressKeyPrefix = []byte("account-key:")
)

// accountKey returns the storage key for the pubkey -> account record map.
func accountKey(pubKey []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(pubKey))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], pubKey)
	return ethcrypto.Keccak256(buf)
}

// addressKey returns the storage key for the address -> active pubkey index.
func addressKey(addr crypto.Address) []byte {
	buf := make([]byte, len(addressKeyPrefix)+crypto.AddressLength)
	copy(buf, addressKeyPrefix)
	copy(buf[len(addressKeyPrefix):], addr.Bytes())
	return ethcrypto.Keccak256(buf)
}

// accountRecord is the persistent shape of an account, stored under the
// public key that currently controls it. Nonce lives inside the record so
// account creation and nonce initialisation are a single write.
type accountRecord struct {
	Address []byte
	Nonce   uint64
}

// Manager reads and writes the two account maps (pubkey -> account record,
// address -> active pubkey) through a batch-scoped KV view.
type Manager struct {
	kv KV
}

// NewManager creates an account state manager over the provided view.
func NewManager(kv KV) *Manager {
	return &Manager{kv: kv}
}

func (m *Manager) loadRecord(pubKey []byte) (*accountRecord, error) {
	data, err := m.kv.Get(accountKey(pubKey))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := new(accountRecord)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (m *Manager) writeRecord(pubKey []byte, record *accountRecord) error {
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return err
	}
	return m.kv.Put(accountKey(pubKey), encoded)
}

// ActiveKey returns the public key currently controlling addr.
// ErrUnknownAddress is returned for addresses that were never created.
func (m *Manager) ActiveKey(addr crypto.Address) ([]byte, error) {
	pubKey, err := m.kv.Get(addressKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrUnknownAddress, addr)
	}
	if err != nil {
		return nil, err
	}
	return pubKey, nil
}

// GetByPubKey assembles the full account bound to pubKey, or nil when the key
// has never been seen. Read-only.
func (m *Manager) GetByPubKey(pubKey []byte) (*types.Account, error) {
	record, err := m.loadRecord(pubKey)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	addr, err := crypto.AddressFromBytes(record.Address)
	if err != nil {
		return nil, err
	}
	return &types.Account{
		Address:   addr,
		PublicKey: append([]byte(nil), pubKey...),
		Nonce:     record.Nonce,
	}, nil
}

// ResolveOrCreate looks up the address bound to pubKey, deriving and
// persisting a fresh binding (nonce 0) when the key has never been seen.
// The returned flag reports whether a new account was created. Calling it
// again with the same key returns the same address and never resets the
// nonce.
//
// Creation requires the derived address to be unbound. A hit in the address
// index without a matching record means pubKey is not the active key for that
// address: either it was rotated away, or it is a different encoding of a key
// already stored under another record key. Both would reset the nonce and
// hijack the index if allowed through.
func (m *Manager) ResolveOrCreate(pubKey []byte) (crypto.Address, bool, error) {
	// Derivation validates the key bytes before any state is read.
	addr, err := crypto.AddressFromPubKeyBytes(pubKey)
	if err != nil {
		return crypto.Address{}, false, err
	}
	record, err := m.loadRecord(pubKey)
	if err != nil {
		return crypto.Address{}, false, err
	}
	if record != nil {
		existing, err := crypto.AddressFromBytes(record.Address)
		if err != nil {
			return crypto.Address{}, false, err
		}
		return existing, false, nil
	}
	if _, err := m.kv.Get(addressKey(addr)); err == nil {
		return crypto.Address{}, false, fmt.Errorf("%w: %s", coreerrors.ErrAddressAlreadyExists, addr)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return crypto.Address{}, false, err
	}
	if err := m.writeRecord(pubKey, &accountRecord{Address: addr.Bytes(), Nonce: 0}); err != nil {
		return crypto.Address{}, false, err
	}
	if err := m.kv.Put(addressKey(addr), pubKey); err != nil {
		return crypto.Address{}, false, err
	}
	return addr, true, nil
}

// Nonce returns the current nonce for addr, resolving through the active key.
func (m *Manager) Nonce(addr crypto.Address) (uint64, error) {
	pubKey, err := m.ActiveKey(addr)
	if err != nil {
		return 0, err
	}
	record, err := m.loadRecord(pubKey)
	if err != nil {
		return 0, err
	}
	if record == nil {
		return 0, fmt.Errorf("%w: %s", coreerrors.ErrUnknownAddress, addr)
	}
	return record.Nonce, nil
}

// CheckAndAdvance accepts the message iff declared equals the stored nonce
// for addr, advancing the stored value by exactly one. On mismatch nothing is
// mutated and ErrNonceMismatch is returned.
func (m *Manager) CheckAndAdvance(addr crypto.Address, declared uint64) error {
	pubKey, err := m.ActiveKey(addr)
	if err != nil {
		return err
	}
	record, err := m.loadRecord(pubKey)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: %s", coreerrors.ErrUnknownAddress, addr)
	}
	if record.Nonce != declared {
		return fmt.Errorf("%w: declared %d, expected %d", coreerrors.ErrNonceMismatch, declared, record.Nonce)
	}
	record.Nonce = declared + 1
	return m.writeRecord(pubKey, record)
}

// Rebind moves addr's active key from oldPubKey to newPubKey, preserving the
// nonce. The new key must not already be bound to a different address; the
// old binding is removed so only the active key resolves to the account.
func (m *Manager) Rebind(oldPubKey, newPubKey []byte, addr crypto.Address) error {
	existing, err := m.loadRecord(newPubKey)
	if err != nil {
		return err
	}
	if existing != nil && !bytes.Equal(existing.Address, addr.Bytes()) {
		return fmt.Errorf("%w: %x", coreerrors.ErrPublicKeyAlreadyBound, newPubKey)
	}
	record, err := m.loadRecord(oldPubKey)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: %s", coreerrors.ErrUnknownAddress, addr)
	}
	if !bytes.Equal(record.Address, addr.Bytes()) {
		return fmt.Errorf("%w: %s", coreerrors.ErrUnknownAddress, addr)
	}
	if err := m.kv.Delete(accountKey(oldPubKey)); err != nil {
		return err
	}
	if err := m.writeRecord(newPubKey, record); err != nil {
		return err
	}
	return m.kv.Put(addressKey(addr), newPubKey)
}
