package core

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	coreerrors "stratachain/core/errors"
	"stratachain/core/types"
	"stratachain/crypto"
	"stratachain/storage"
)

func encodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

func newTestProcessor(t *testing.T) (*Processor, storage.Database) {
	t.Helper()
	db := storage.NewMemDB()
	return NewProcessor(db, crypto.Secp256k1Verifier{}), db
}

func newTestKeypair(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

func forwardMsg(pubKey []byte, nonce uint64, payload []byte) *types.Message {
	return &types.Message{
		Type:         types.MsgForward,
		SenderPubKey: pubKey,
		Nonce:        nonce,
		Payload:      payload,
	}
}

func updateKeyMsg(t *testing.T, pubKey []byte, nonce uint64, payload *types.UpdateKeyPayload) *types.Message {
	t.Helper()
	encoded, err := types.EncodeUpdateKeyPayload(payload)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return &types.Message{
		Type:         types.MsgUpdateKey,
		SenderPubKey: pubKey,
		Nonce:        nonce,
		Payload:      encoded,
	}
}

// Mirrors the canonical lifecycle: create on first contact, accept nonce 0,
// reject its replay, rotate the key at nonce 1, query through the new key.
func TestAccountLifecycle(t *testing.T) {
	p, _ := newTestProcessor(t)
	k0 := newTestKeypair(t)
	pub0 := k0.PubKey().Bytes()

	// Message #1 (nonce 0) creates the account and forwards the payload.
	result, err := p.ApplyMessage(forwardMsg(pub0, 0, []byte("inner")))
	if err != nil {
		t.Fatalf("apply first message: %v", err)
	}
	addr := result.Address
	if !addr.Equal(k0.PubKey().Address()) {
		t.Fatalf("resolved address %s does not match derivation", addr)
	}
	if !bytes.Equal(result.Payload, []byte("inner")) {
		t.Fatal("payload not returned untouched")
	}

	// Message #2 replays nonce 0 and must be rejected without side effects.
	if _, err := p.ApplyMessage(forwardMsg(pub0, 0, nil)); !errors.Is(err, coreerrors.ErrNonceMismatch) {
		t.Fatalf("expected ErrNonceMismatch, got %v", err)
	}
	nonce, err := p.NonceOf(addr)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if nonce != 1 {
		t.Fatalf("replay mutated nonce: got %d want 1", nonce)
	}

	// Rotate to K1 at nonce 1 with a valid possession proof.
	k1 := newTestKeypair(t)
	pub1 := k1.PubKey().Bytes()
	proof, err := types.SignRotation(k1, addr, 1)
	if err != nil {
		t.Fatalf("sign rotation: %v", err)
	}
	if _, err := p.ApplyMessage(updateKeyMsg(t, pub0, 1, &types.UpdateKeyPayload{
		NewPublicKey:   pub1,
		ProofSignature: proof,
	})); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	account, err := p.GetAccount(pub1)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account == nil {
		t.Fatal("new key does not resolve after rotation")
	}
	if !account.Address.Equal(addr) {
		t.Fatalf("rotation changed the address: %s", account.Address)
	}
	if account.Nonce != 2 {
		t.Fatalf("unexpected nonce after rotation: got %d want 2", account.Nonce)
	}

	old, err := p.GetAccount(pub0)
	if err != nil {
		t.Fatalf("get old account: %v", err)
	}
	if old != nil {
		t.Fatal("rotated-away key still resolves")
	}
}

func TestApplyMessageAddressReferencePath(t *testing.T) {
	p, _ := newTestProcessor(t)
	k := newTestKeypair(t)
	pub := k.PubKey().Bytes()

	result, err := p.ApplyMessage(forwardMsg(pub, 0, nil))
	if err != nil {
		t.Fatalf("first contact: %v", err)
	}

	// Repeat sender identified by address only.
	if _, err := p.ApplyMessage(&types.Message{
		Type:          types.MsgForward,
		SenderAddress: result.Address.Bytes(),
		Nonce:         1,
	}); err != nil {
		t.Fatalf("address path: %v", err)
	}

	// An address with no prior binding is a caller error.
	unknown := make([]byte, crypto.AddressLength)
	for i := range unknown {
		unknown[i] = 0x42
	}
	if _, err := p.ApplyMessage(&types.Message{
		Type:          types.MsgForward,
		SenderAddress: unknown,
		Nonce:         0,
	}); !errors.Is(err, coreerrors.ErrUnknownAddress) {
		t.Fatalf("expected ErrUnknownAddress, got %v", err)
	}
}

func TestApplyMessageRejectsMalformedSenderKey(t *testing.T) {
	p, _ := newTestProcessor(t)
	if _, err := p.ApplyMessage(forwardMsg([]byte{0xde, 0xad}, 0, nil)); !errors.Is(err, crypto.ErrInvalidPublicKey) {
		t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
	}
	if _, err := p.ApplyMessage(&types.Message{Type: types.MsgForward, Nonce: 0}); !errors.Is(err, crypto.ErrInvalidPublicKey) {
		t.Fatalf("expected ErrInvalidPublicKey for missing sender, got %v", err)
	}
}

func TestRejectedMessageLeavesNoAccountBehind(t *testing.T) {
	p, _ := newTestProcessor(t)
	k := newTestKeypair(t)
	pub := k.PubKey().Bytes()

	// First contact with a wrong nonce: the implicit creation must not stick.
	if _, err := p.ApplyMessage(forwardMsg(pub, 7, nil)); !errors.Is(err, coreerrors.ErrNonceMismatch) {
		t.Fatalf("expected ErrNonceMismatch, got %v", err)
	}
	account, err := p.GetAccount(pub)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account != nil {
		t.Fatal("rejected first-contact message left an account binding")
	}
}

func TestRotationInvalidProofKeepsNonceAdvance(t *testing.T) {
	p, _ := newTestProcessor(t)
	k0 := newTestKeypair(t)
	pub0 := k0.PubKey().Bytes()

	result, err := p.ApplyMessage(forwardMsg(pub0, 0, nil))
	if err != nil {
		t.Fatalf("first contact: %v", err)
	}
	addr := result.Address

	// Proof signed by the old key instead of the new one.
	k1 := newTestKeypair(t)
	badProof, err := types.SignRotation(k0, addr, 1)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := p.ApplyMessage(updateKeyMsg(t, pub0, 1, &types.UpdateKeyPayload{
		NewPublicKey:   k1.PubKey().Bytes(),
		ProofSignature: badProof,
	})); !errors.Is(err, coreerrors.ErrInvalidKeyProof) {
		t.Fatalf("expected ErrInvalidKeyProof, got %v", err)
	}

	// The active key is unchanged but the nonce advance persists.
	account, err := p.GetAccount(pub0)
	if err != nil || account == nil {
		t.Fatalf("old key must still resolve: %v", err)
	}
	if account.Nonce != 2 {
		t.Fatalf("nonce advance rolled back: got %d want 2", account.Nonce)
	}
	if rotated, err := p.GetAccount(k1.PubKey().Bytes()); err != nil || rotated != nil {
		t.Fatalf("rejected rotation installed the new key: %v %v", rotated, err)
	}
}

func TestRotationProofIsDomainSeparated(t *testing.T) {
	p, _ := newTestProcessor(t)
	kA := newTestKeypair(t)
	kB := newTestKeypair(t)
	pubA := kA.PubKey().Bytes()
	pubB := kB.PubKey().Bytes()

	resA, err := p.ApplyMessage(forwardMsg(pubA, 0, nil))
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := p.ApplyMessage(forwardMsg(pubB, 0, nil)); err != nil {
		t.Fatalf("create b: %v", err)
	}

	// A proof minted for account A must not rotate account B.
	kNew := newTestKeypair(t)
	proofForA, err := types.SignRotation(kNew, resA.Address, 1)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := p.ApplyMessage(updateKeyMsg(t, pubB, 1, &types.UpdateKeyPayload{
		NewPublicKey:   kNew.PubKey().Bytes(),
		ProofSignature: proofForA,
	})); !errors.Is(err, coreerrors.ErrInvalidKeyProof) {
		t.Fatalf("cross-account proof accepted: %v", err)
	}
}

func TestRotationToBoundKeyRejected(t *testing.T) {
	p, _ := newTestProcessor(t)
	kA := newTestKeypair(t)
	kB := newTestKeypair(t)
	pubA := kA.PubKey().Bytes()
	pubB := kB.PubKey().Bytes()

	resA, err := p.ApplyMessage(forwardMsg(pubA, 0, nil))
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := p.ApplyMessage(forwardMsg(pubB, 0, nil)); err != nil {
		t.Fatalf("create b: %v", err)
	}

	proof, err := types.SignRotation(kB, resA.Address, 1)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := p.ApplyMessage(updateKeyMsg(t, pubA, 1, &types.UpdateKeyPayload{
		NewPublicKey:   pubB,
		ProofSignature: proof,
	})); !errors.Is(err, coreerrors.ErrPublicKeyAlreadyBound) {
		t.Fatalf("expected ErrPublicKeyAlreadyBound, got %v", err)
	}

	// Both accounts keep their original keys.
	if account, err := p.GetAccount(pubA); err != nil || account == nil {
		t.Fatalf("account a lost its key: %v", err)
	}
	if account, err := p.GetAccount(pubB); err != nil || account == nil {
		t.Fatalf("account b lost its key: %v", err)
	}
}

func TestRotatedAwayKeyCannotRecreateAccount(t *testing.T) {
	p, _ := newTestProcessor(t)
	k0 := newTestKeypair(t)
	pub0 := k0.PubKey().Bytes()

	result, err := p.ApplyMessage(forwardMsg(pub0, 0, nil))
	if err != nil {
		t.Fatalf("first contact: %v", err)
	}
	addr := result.Address

	k1 := newTestKeypair(t)
	pub1 := k1.PubKey().Bytes()
	proof, err := types.SignRotation(k1, addr, 1)
	if err != nil {
		t.Fatalf("sign rotation: %v", err)
	}
	if _, err := p.ApplyMessage(updateKeyMsg(t, pub0, 1, &types.UpdateKeyPayload{
		NewPublicKey:   pub1,
		ProofSignature: proof,
	})); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	// The rotated-away key must not re-enter through the creation path:
	// only a proof-carrying rotation may change the active key, and the
	// accepted-nonce sequence must stay monotonic.
	if _, err := p.ApplyMessage(forwardMsg(pub0, 0, nil)); !errors.Is(err, coreerrors.ErrAddressAlreadyExists) {
		t.Fatalf("expected ErrAddressAlreadyExists, got %v", err)
	}

	nonce, err := p.NonceOf(addr)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if nonce != 2 {
		t.Fatalf("nonce sequence restarted: got %d want 2", nonce)
	}
	if account, err := p.GetAccount(pub0); err != nil || account != nil {
		t.Fatalf("rotated-away key resolves again: %v %v", account, err)
	}
	account, err := p.GetAccount(pub1)
	if err != nil || account == nil {
		t.Fatalf("active key lost: %v", err)
	}
	if !account.Address.Equal(addr) {
		t.Fatalf("active key bound to wrong address %s", account.Address)
	}
}

func TestAliasedKeyEncodingCannotHijackAccount(t *testing.T) {
	p, _ := newTestProcessor(t)
	k := newTestKeypair(t)
	uncompressed := k.PubKey().Bytes()
	compressed := k.PubKey().CompressedBytes()

	result, err := p.ApplyMessage(forwardMsg(uncompressed, 0, nil))
	if err != nil {
		t.Fatalf("first contact: %v", err)
	}
	if _, err := p.ApplyMessage(forwardMsg(uncompressed, 1, nil)); err != nil {
		t.Fatalf("second message: %v", err)
	}

	// Same key, compressed encoding, same derived address: must be
	// rejected instead of opening a fresh record at nonce 0.
	if _, err := p.ApplyMessage(forwardMsg(compressed, 0, nil)); !errors.Is(err, coreerrors.ErrAddressAlreadyExists) {
		t.Fatalf("expected ErrAddressAlreadyExists, got %v", err)
	}

	nonce, err := p.NonceOf(result.Address)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if nonce != 2 {
		t.Fatalf("alias reset the nonce: got %d want 2", nonce)
	}
	if account, err := p.GetAccount(compressed); err != nil || account != nil {
		t.Fatalf("alias encoding acquired a record: %v %v", account, err)
	}
}

func TestProcessorCopyIsSpeculative(t *testing.T) {
	p, db := newTestProcessor(t)
	k := newTestKeypair(t)
	pub := k.PubKey().Bytes()

	branch := p.Copy()
	if _, err := branch.ApplyMessage(forwardMsg(pub, 0, nil)); err != nil {
		t.Fatalf("branch apply: %v", err)
	}

	// The canonical processor and the database see nothing.
	if account, err := p.GetAccount(pub); err != nil || account != nil {
		t.Fatalf("branch mutation visible to canonical processor: %v %v", account, err)
	}
	if err := branch.Commit(); err != nil {
		t.Fatalf("branch commit: %v", err)
	}

	// After commit the shared database carries the account.
	fresh := NewProcessor(db, crypto.Secp256k1Verifier{})
	account, err := fresh.GetAccount(pub)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account == nil {
		t.Fatal("committed branch state missing from database")
	}
	if account.Nonce != 1 {
		t.Fatalf("unexpected nonce %d", account.Nonce)
	}
}

func TestMutationsVisibleWithinBatchBeforeCommit(t *testing.T) {
	p, db := newTestProcessor(t)
	k := newTestKeypair(t)
	pub := k.PubKey().Bytes()

	for nonce := uint64(0); nonce < 3; nonce++ {
		if _, err := p.ApplyMessage(forwardMsg(pub, nonce, nil)); err != nil {
			t.Fatalf("apply nonce %d: %v", nonce, err)
		}
	}
	// Nothing reached the database yet.
	fresh := NewProcessor(db, crypto.Secp256k1Verifier{})
	if account, err := fresh.GetAccount(pub); err != nil || account != nil {
		t.Fatalf("uncommitted batch leaked: %v %v", account, err)
	}

	if err := p.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	account, err := fresh.GetAccount(pub)
	if err != nil || account == nil {
		t.Fatalf("committed batch missing: %v", err)
	}
	if account.Nonce != 3 {
		t.Fatalf("unexpected nonce %d want 3", account.Nonce)
	}
}

func TestInitGenesis(t *testing.T) {
	p, db := newTestProcessor(t)
	k1 := newTestKeypair(t)
	k2 := newTestKeypair(t)

	spec := &GenesisSpec{
		NetworkName: "strata-test",
		Accounts: []string{
			encodeHex(k1.PubKey().Bytes()),
			encodeHex(k2.PubKey().Bytes()),
		},
	}
	if err := p.InitGenesis(spec); err != nil {
		t.Fatalf("init genesis: %v", err)
	}

	initialized, err := GenesisInitialized(db)
	if err != nil || !initialized {
		t.Fatalf("genesis marker missing: %v %v", initialized, err)
	}
	for _, k := range []*crypto.PrivateKey{k1, k2} {
		account, err := p.GetAccount(k.PubKey().Bytes())
		if err != nil || account == nil {
			t.Fatalf("genesis account missing: %v", err)
		}
		if account.Nonce != 0 {
			t.Fatalf("genesis nonce not zero: %d", account.Nonce)
		}
	}
}

func TestInitGenesisRejectsDuplicateKeys(t *testing.T) {
	p, _ := newTestProcessor(t)
	k := newTestKeypair(t)
	pub := encodeHex(k.PubKey().Bytes())

	err := p.InitGenesis(&GenesisSpec{
		NetworkName: "strata-test",
		Accounts:    []string{pub, pub},
	})
	if err == nil {
		t.Fatal("duplicate genesis key accepted")
	}
}
