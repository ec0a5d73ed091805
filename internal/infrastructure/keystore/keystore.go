package keystore

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var ErrKeyNotFound = errors.New("signer key not found")

// StaticKeyStore holds escrow signer keys in memory.
type StaticKeyStore struct {
	keys         map[string]*ecdsa.PrivateKey
	defaultKeyID string
}

// Parse builds a keystore from "keyId:hex,keyId2:hex". A bare hex key is
// stored under "default". defaultKeyID falls back to the first key.
func Parse(raw, defaultKeyID string) (*StaticKeyStore, error) {
	ks := &StaticKeyStore{keys: make(map[string]*ecdsa.PrivateKey)}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		keyID, hexKey := "default", p
		if parts := strings.SplitN(p, ":", 2); len(parts) == 2 {
			keyID, hexKey = strings.TrimSpace(parts[0]), parts[1]
		}
		key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
		if err != nil {
			return nil, fmt.Errorf("signer key %q: %w", keyID, err)
		}
		if _, dup := ks.keys[keyID]; dup {
			return nil, fmt.Errorf("duplicate signer key id %q", keyID)
		}
		ks.keys[keyID] = key
		if ks.defaultKeyID == "" {
			ks.defaultKeyID = keyID
		}
	}
	if defaultKeyID != "" {
		if _, ok := ks.keys[defaultKeyID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, defaultKeyID)
		}
		ks.defaultKeyID = defaultKeyID
	}
	return ks, nil
}

func (s *StaticKeyStore) Empty() bool {
	return s == nil || len(s.keys) == 0
}

func (s *StaticKeyStore) GetKey(ctx context.Context, keyID string) (*ecdsa.PrivateKey, error) {
	_ = ctx
	key, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return key, nil
}

// DefaultKey returns the key used to sign escrow transactions.
func (s *StaticKeyStore) DefaultKey(ctx context.Context) (string, *ecdsa.PrivateKey, error) {
	if s.Empty() || s.defaultKeyID == "" {
		return "", nil, errors.New("default signer key not configured")
	}
	key, err := s.GetKey(ctx, s.defaultKeyID)
	return s.defaultKeyID, key, err
}

// Address derives the account of a key.
func Address(key *ecdsa.PrivateKey) common.Address {
	return gethcrypto.PubkeyToAddress(key.PublicKey)
}
