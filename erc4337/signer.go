package erc4337

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer is the signing capability that owns a smart account
type Signer interface {
	Address(ctx context.Context) (common.Address, error)
	SignOperation(ctx context.Context, op *UserOperation, entryPoint common.Address, chainId *big.Int) ([]byte, error)
}

// PrivateKeySigner signs the userOpHash as an EIP-191 personal message,
// which is what SimpleAccount validates against its owner.
type PrivateKeySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func NewPrivateKeySigner(privateKeyHex string) (*PrivateKeySigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &PrivateKeySigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

func (s *PrivateKeySigner) Address(_ context.Context) (common.Address, error) {
	return s.address, nil
}

func (s *PrivateKeySigner) SignOperation(_ context.Context, op *UserOperation, entryPoint common.Address, chainId *big.Int) ([]byte, error) {
	userOpHash, err := op.GetUserOpHash(entryPoint, chainId)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(PersonalSignHash(userOpHash.Bytes()).Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign user operation: %w", err)
	}

	// Adjust v for Ethereum compatibility
	signature[64] += 27
	return signature, nil
}

// PersonalSignHash creates an Ethereum signed message hash
func PersonalSignHash(data []byte) common.Hash {
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(data), data)
	return crypto.Keccak256Hash([]byte(msg))
}
