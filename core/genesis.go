package core

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"stratachain/storage"
)

// GenesisSpec describes the accounts present at chain start: a list of hex
// encoded public keys, each pre-created with nonce 0. Genesis keys carry no
// explicit possession proof; the genesis authority vouches for them.
type GenesisSpec struct {
	NetworkName string   `json:"networkName"`
	Accounts    []string `json:"accounts"`
}

// LoadGenesis parses a genesis spec from the JSON file at path.
func LoadGenesis(path string) (*GenesisSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis file: %w", err)
	}
	spec := new(GenesisSpec)
	if err := json.Unmarshal(data, spec); err != nil {
		return nil, fmt.Errorf("parse genesis file: %w", err)
	}
	if strings.TrimSpace(spec.NetworkName) == "" {
		return nil, fmt.Errorf("genesis: networkName must not be empty")
	}
	return spec, nil
}

var genesisMarkerKey = ethcrypto.Keccak256([]byte("genesis-initialized"))

// GenesisInitialized reports whether the store already holds an initialised
// genesis state.
func GenesisInitialized(db storage.Database) (bool, error) {
	return db.Has(genesisMarkerKey)
}

// InitGenesis creates an account for every public key in the spec and commits
// the result. Duplicate keys are rejected before anything is written.
func (p *Processor) InitGenesis(spec *GenesisSpec) error {
	if spec == nil {
		return errors.New("genesis spec must not be nil")
	}
	seen := make(map[string]struct{}, len(spec.Accounts))
	for _, encoded := range spec.Accounts {
		trimmed := strings.TrimSpace(strings.TrimPrefix(encoded, "0x"))
		if _, dup := seen[trimmed]; dup {
			return fmt.Errorf("genesis: duplicate public key %s", trimmed)
		}
		seen[trimmed] = struct{}{}

		pubKey, err := hex.DecodeString(trimmed)
		if err != nil {
			return fmt.Errorf("genesis: decode public key %s: %w", trimmed, err)
		}
		addr, created, err := p.accounts.ResolveOrCreate(pubKey)
		if err != nil {
			return fmt.Errorf("genesis: create account: %w", err)
		}
		if !created {
			return fmt.Errorf("genesis: public key %s already bound to %s", trimmed, addr)
		}
		p.logger.Info("genesis account created", "address", addr.String())
	}
	if err := p.working.Put(genesisMarkerKey, []byte{1}); err != nil {
		return err
	}
	return p.Commit()
}
