package erc4337

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// EntryPointV06 address constant
var EntryPointV06 = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

// UserOperation represents the ERC-4337 v0.6 user operation structure
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`

	state OperationState
}

// NewUserOperation returns an empty operation for the given sender
func NewUserOperation(sender common.Address) *UserOperation {
	return &UserOperation{
		Sender:           sender,
		Nonce:            (*hexutil.Big)(big.NewInt(0)),
		InitCode:         hexutil.Bytes{},
		CallData:         hexutil.Bytes{},
		PaymasterAndData: hexutil.Bytes{},
		Signature:        hexutil.Bytes{},
		state:            StateEmpty,
	}
}

// MarshalJSON implements custom JSON marshaling for UserOperation
func (uo *UserOperation) MarshalJSON() ([]byte, error) {
	type Alias UserOperation
	aux := struct {
		Nonce                string `json:"nonce"`
		InitCode             string `json:"initCode"`
		CallData             string `json:"callData"`
		CallGasLimit         string `json:"callGasLimit"`
		VerificationGasLimit string `json:"verificationGasLimit"`
		PreVerificationGas   string `json:"preVerificationGas"`
		MaxFeePerGas         string `json:"maxFeePerGas"`
		MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
		PaymasterAndData     string `json:"paymasterAndData"`
		Signature            string `json:"signature"`
		*Alias
	}{
		Nonce:                encodeQuantity(uo.Nonce),
		InitCode:             hexutil.Encode(uo.InitCode),
		CallData:             hexutil.Encode(uo.CallData),
		CallGasLimit:         encodeQuantity(uo.CallGasLimit),
		VerificationGasLimit: encodeQuantity(uo.VerificationGasLimit),
		PreVerificationGas:   encodeQuantity(uo.PreVerificationGas),
		MaxFeePerGas:         encodeQuantity(uo.MaxFeePerGas),
		MaxPriorityFeePerGas: encodeQuantity(uo.MaxPriorityFeePerGas),
		PaymasterAndData:     hexutil.Encode(uo.PaymasterAndData),
		Signature:            hexutil.Encode(uo.Signature),
		Alias:                (*Alias)(uo),
	}

	return json.Marshal(aux)
}

// UnmarshalJSON implements custom JSON unmarshaling for UserOperation.
// Numeric fields may be hex quantities, zero padded or not.
func (uo *UserOperation) UnmarshalJSON(data []byte) error {
	type Alias UserOperation
	aux := struct {
		Nonce                string `json:"nonce"`
		CallGasLimit         string `json:"callGasLimit"`
		VerificationGasLimit string `json:"verificationGasLimit"`
		PreVerificationGas   string `json:"preVerificationGas"`
		MaxFeePerGas         string `json:"maxFeePerGas"`
		MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
		*Alias
	}{
		Alias: (*Alias)(uo),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	fields := []struct {
		name string
		raw  string
		dst  **hexutil.Big
	}{
		{"nonce", aux.Nonce, &uo.Nonce},
		{"callGasLimit", aux.CallGasLimit, &uo.CallGasLimit},
		{"verificationGasLimit", aux.VerificationGasLimit, &uo.VerificationGasLimit},
		{"preVerificationGas", aux.PreVerificationGas, &uo.PreVerificationGas},
		{"maxFeePerGas", aux.MaxFeePerGas, &uo.MaxFeePerGas},
		{"maxPriorityFeePerGas", aux.MaxPriorityFeePerGas, &uo.MaxPriorityFeePerGas},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		v, err := parseHexBig(f.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %v", f.name, err)
		}
		*f.dst = (*hexutil.Big)(v)
	}

	return nil
}

// Copy returns a deep copy of the operation, lifecycle state included
func (uo *UserOperation) Copy() *UserOperation {
	cp := &UserOperation{
		Sender:               uo.Sender,
		Nonce:                copyBig(uo.Nonce),
		InitCode:             common.CopyBytes(uo.InitCode),
		CallData:             common.CopyBytes(uo.CallData),
		CallGasLimit:         copyBig(uo.CallGasLimit),
		VerificationGasLimit: copyBig(uo.VerificationGasLimit),
		PreVerificationGas:   copyBig(uo.PreVerificationGas),
		MaxFeePerGas:         copyBig(uo.MaxFeePerGas),
		MaxPriorityFeePerGas: copyBig(uo.MaxPriorityFeePerGas),
		PaymasterAndData:     common.CopyBytes(uo.PaymasterAndData),
		Signature:            common.CopyBytes(uo.Signature),
		state:                uo.state,
	}
	return cp
}

// GetUserOpHash computes the user operation hash for ERC-4337 v0.6
func (uo *UserOperation) GetUserOpHash(entryPoint common.Address, chainId *big.Int) (common.Hash, error) {
	addressType, _ := abi.NewType("address", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	bytes32Type, _ := abi.NewType("bytes32", "", nil)

	userOpArgs := abi.Arguments{
		{Type: addressType}, // sender
		{Type: uint256Type}, // nonce
		{Type: bytes32Type}, // hashedInitCode
		{Type: bytes32Type}, // hashedCallData
		{Type: uint256Type}, // callGasLimit
		{Type: uint256Type}, // verificationGasLimit
		{Type: uint256Type}, // preVerificationGas
		{Type: uint256Type}, // maxFeePerGas
		{Type: uint256Type}, // maxPriorityFeePerGas
		{Type: bytes32Type}, // hashedPaymasterAndData
	}

	userOpEncoded, err := userOpArgs.Pack(
		uo.Sender,
		bigOrZero(uo.Nonce),
		crypto.Keccak256Hash(uo.InitCode),
		crypto.Keccak256Hash(uo.CallData),
		bigOrZero(uo.CallGasLimit),
		bigOrZero(uo.VerificationGasLimit),
		bigOrZero(uo.PreVerificationGas),
		bigOrZero(uo.MaxFeePerGas),
		bigOrZero(uo.MaxPriorityFeePerGas),
		crypto.Keccak256Hash(uo.PaymasterAndData),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode user operation: %v", err)
	}

	finalArgs := abi.Arguments{
		{Type: bytes32Type}, // userOpHash
		{Type: addressType}, // entryPoint
		{Type: uint256Type}, // chainId
	}

	finalEncoded, err := finalArgs.Pack(
		crypto.Keccak256Hash(userOpEncoded),
		entryPoint,
		chainId,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode final hash: %v", err)
	}

	return crypto.Keccak256Hash(finalEncoded), nil
}

func encodeQuantity(v *hexutil.Big) string {
	if v == nil {
		return "0x0"
	}
	return hexutil.EncodeBig((*big.Int)(v))
}

func bigOrZero(v *hexutil.Big) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return (*big.Int)(v)
}

func copyBig(v *hexutil.Big) *hexutil.Big {
	if v == nil {
		return nil
	}
	return (*hexutil.Big)(new(big.Int).Set((*big.Int)(v)))
}

func parseHexBig(hexStr string) (*big.Int, error) {
	if len(hexStr) >= 2 && (hexStr[:2] == "0x" || hexStr[:2] == "0X") {
		hexStr = hexStr[2:]
	}
	if hexStr == "" {
		return big.NewInt(0), nil
	}
	result := new(big.Int)
	if _, ok := result.SetString(hexStr, 16); !ok {
		return nil, fmt.Errorf("invalid hex string: %s", hexStr)
	}
	return result, nil
}
