package core

import (
	"errors"
	"fmt"
	"log/slog"

	coreerrors "stratachain/core/errors"
	"stratachain/core/events"
	"stratachain/core/state"
	"stratachain/core/types"
	"stratachain/crypto"
	"stratachain/observability/metrics"
	"stratachain/storage"
)

// Processor is the accounts engine: the sole mutator of account state. It
// resolves senders to addresses, enforces per-address nonce ordering and
// executes key rotations. One Processor handles one batch at a time; all
// accepted mutations buffer in its working set until Commit.
type Processor struct {
	working  *state.Working
	accounts *state.Manager
	verifier crypto.Verifier
	emitter  events.Emitter
	logger   *slog.Logger
}

// ProcessorOption customises a Processor at construction time.
type ProcessorOption func(*Processor)

// WithEmitter wires an event emitter; defaults to discarding events.
func WithEmitter(emitter events.Emitter) ProcessorOption {
	return func(p *Processor) { p.emitter = emitter }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

// NewProcessor creates an accounts engine over the provided database using
// the given signature-verification capability.
func NewProcessor(db storage.Database, verifier crypto.Verifier, opts ...ProcessorOption) *Processor {
	working := state.NewWorking(db)
	p := &Processor{
		working:  working,
		accounts: state.NewManager(working),
		verifier: verifier,
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ApplyResult carries the outcome of a successfully processed message back to
// the outer dispatch layer: the resolved sender address and, for forwarded
// messages, the untouched inner payload to route downstream.
type ApplyResult struct {
	Address crypto.Address
	Payload []byte
}

// ApplyMessage runs the per-message state machine: resolve the sender, check
// and advance the nonce, then dispatch on the message kind. Errors are typed
// per-message rejections; the caller decides whether to keep processing the
// batch.
//
// Each message executes against a staged copy of the working set, so a
// rejected message leaves the batch state untouched. The single documented
// exception: when a key rotation fails after the nonce check, the nonce
// advance is kept, since the nonce is what prevents replaying the rejected
// request.
func (p *Processor) ApplyMessage(msg *types.Message) (*ApplyResult, error) {
	if msg == nil {
		return nil, fmt.Errorf("nil message")
	}

	staged := p.working.Copy()
	accounts := state.NewManager(staged)

	addr, senderKey, created, err := resolveSender(accounts, msg)
	if err != nil {
		p.reject(msg, err)
		return nil, err
	}

	if err := accounts.CheckAndAdvance(addr, msg.Nonce); err != nil {
		p.reject(msg, err)
		return nil, err
	}

	switch msg.Type {
	case types.MsgForward:
		p.adopt(staged)
		p.accepted(msg, addr, senderKey, created)
		return &ApplyResult{Address: addr, Payload: msg.Payload}, nil

	case types.MsgUpdateKey:
		rotated := staged.Copy()
		newKey, err := p.updatePublicKey(state.NewManager(rotated), addr, senderKey, msg)
		if err != nil {
			// The nonce advance in staged stays applied; only the
			// rebind attempt is dropped.
			p.adopt(staged)
			p.emitCreated(addr, senderKey, created)
			p.reject(msg, err)
			return nil, err
		}
		p.adopt(rotated)
		p.accepted(msg, addr, senderKey, created)
		metrics.Accounts().KeyRotated()
		p.emitter.Emit(events.KeyRotated{Address: addr, OldKey: senderKey, NewKey: newKey})
		p.logger.Info("account key rotated", "address", addr.String())
		return &ApplyResult{Address: addr}, nil

	default:
		err := fmt.Errorf("unsupported message type 0x%02x", byte(msg.Type))
		p.reject(msg, err)
		return nil, err
	}
}

// adopt replaces the batch working set with the staged view holding the
// message's accepted mutations.
func (p *Processor) adopt(staged *state.Working) {
	p.working = staged
	p.accounts = state.NewManager(staged)
}

func (p *Processor) accepted(msg *types.Message, addr crypto.Address, senderKey []byte, created bool) {
	p.emitCreated(addr, senderKey, created)
	metrics.Accounts().MessageProcessed(msg.Type.String())
}

func (p *Processor) emitCreated(addr crypto.Address, senderKey []byte, created bool) {
	if !created {
		return
	}
	metrics.Accounts().AccountCreated()
	p.emitter.Emit(events.AccountCreated{Address: addr, PublicKey: senderKey})
	p.logger.Debug("account created", "address", addr.String())
}

// resolveSender maps the message to a bound address and the sender's active
// public key. The pubkey path creates the account on first contact; the
// compact address path requires the binding to already exist.
func resolveSender(accounts *state.Manager, msg *types.Message) (crypto.Address, []byte, bool, error) {
	switch {
	case len(msg.SenderPubKey) > 0:
		addr, created, err := accounts.ResolveOrCreate(msg.SenderPubKey)
		if err != nil {
			return crypto.Address{}, nil, false, err
		}
		return addr, msg.SenderPubKey, created, nil
	case len(msg.SenderAddress) > 0:
		addr, err := crypto.AddressFromBytes(msg.SenderAddress)
		if err != nil {
			return crypto.Address{}, nil, false, fmt.Errorf("%w: %v", coreerrors.ErrUnknownAddress, err)
		}
		activeKey, err := accounts.ActiveKey(addr)
		if err != nil {
			return crypto.Address{}, nil, false, err
		}
		return addr, activeKey, false, nil
	default:
		return crypto.Address{}, nil, false, fmt.Errorf("%w: message carries no sender identity", crypto.ErrInvalidPublicKey)
	}
}

// updatePublicKey verifies the possession proof over the domain-separated
// rotation challenge and rebinds the account, returning the new key.
func (p *Processor) updatePublicKey(accounts *state.Manager, addr crypto.Address, oldKey []byte, msg *types.Message) ([]byte, error) {
	payload, err := types.DecodeUpdateKeyPayload(msg.Payload)
	if err != nil {
		return nil, err
	}
	if _, err := crypto.AddressFromPubKeyBytes(payload.NewPublicKey); err != nil {
		return nil, err
	}
	challenge := types.RotationChallenge(addr, msg.Nonce)
	if !p.verifier.Verify(payload.NewPublicKey, challenge, payload.ProofSignature) {
		return nil, fmt.Errorf("%w: address %s", coreerrors.ErrInvalidKeyProof, addr)
	}
	if err := accounts.Rebind(oldKey, payload.NewPublicKey, addr); err != nil {
		return nil, err
	}
	return payload.NewPublicKey, nil
}

func (p *Processor) reject(msg *types.Message, err error) {
	metrics.Accounts().MessageRejected(rejectionReason(err))
	p.logger.Debug("message rejected",
		"type", msg.Type.String(),
		"nonce", msg.Nonce,
		"error", err,
	)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, coreerrors.ErrNonceMismatch):
		return "nonce_mismatch"
	case errors.Is(err, coreerrors.ErrUnknownAddress):
		return "unknown_address"
	case errors.Is(err, coreerrors.ErrPublicKeyAlreadyBound):
		return "key_already_bound"
	case errors.Is(err, coreerrors.ErrAddressAlreadyExists):
		return "address_exists"
	case errors.Is(err, coreerrors.ErrInvalidKeyProof):
		return "invalid_key_proof"
	case errors.Is(err, crypto.ErrInvalidPublicKey):
		return "invalid_public_key"
	default:
		return "other"
	}
}

// Copy returns an isolated clone of the processor for speculative execution.
// The clone shares the backing database but buffers its own mutations; the
// canonical processor is unaffected until one of them commits.
func (p *Processor) Copy() *Processor {
	working := p.working.Copy()
	return &Processor{
		working:  working,
		accounts: state.NewManager(working),
		verifier: p.verifier,
		emitter:  p.emitter,
		logger:   p.logger,
	}
}

// Commit flushes the batch's buffered mutations to the database atomically.
func (p *Processor) Commit() error {
	return p.working.Commit()
}

// Discard drops all buffered mutations from the in-flight batch.
func (p *Processor) Discard() {
	p.working.Discard()
}
