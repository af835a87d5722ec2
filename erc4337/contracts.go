package erc4337

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const simpleAccountABIJSON = `[
	{"type":"function","name":"execute","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"outputs":[]}
]`

const accountFactoryABIJSON = `[
	{"type":"function","name":"createAccount","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"ret","type":"address"}]},
	{"type":"function","name":"getAddress","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

const entryPointABIJSON = `[
	{"type":"function","name":"getNonce","stateMutability":"view","inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"outputs":[{"name":"nonce","type":"uint256"}]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

var (
	SimpleAccountABI  = mustParseABI("SimpleAccount", simpleAccountABIJSON)
	AccountFactoryABI = mustParseABI("SimpleAccountFactory", accountFactoryABIJSON)
	EntryPointABI     = mustParseABI("EntryPoint", entryPointABIJSON)
	ERC20ABI          = mustParseABI("ERC20", erc20ABIJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Errorf("invalid %s ABI: %w", name, err))
	}
	return parsed
}

// PackExecute wraps a call to target into SimpleAccount.execute
func PackExecute(target common.Address, value *big.Int, callData []byte) ([]byte, error) {
	if value == nil {
		value = big.NewInt(0)
	}
	return SimpleAccountABI.Pack("execute", target, value, callData)
}

// PackTransfer encodes an ERC-20 transfer(to, amount) call
func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("transfer", to, amount)
}

// InitCode returns the factory address followed by createAccount(owner, salt) calldata
func InitCode(factory, owner common.Address, salt *big.Int) ([]byte, error) {
	calldata, err := AccountFactoryABI.Pack("createAccount", owner, salt)
	if err != nil {
		return nil, err
	}
	initCode := make([]byte, 0, common.AddressLength+len(calldata))
	initCode = append(initCode, factory.Bytes()...)
	initCode = append(initCode, calldata...)
	return initCode, nil
}

// UnpackAddress decodes a single address return value of method on contract
func UnpackAddress(contract abi.ABI, method string, data []byte) (common.Address, error) {
	out, err := contract.Unpack(method, data)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("unexpected %s output length %d", method, len(out))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected %s output type %T", method, out[0])
	}
	return addr, nil
}

// UnpackBig decodes a single uint256 return value of method on contract
func UnpackBig(contract abi.ABI, method string, data []byte) (*big.Int, error) {
	out, err := contract.Unpack(method, data)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s output length %d", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s output type %T", method, out[0])
	}
	return v, nil
}
