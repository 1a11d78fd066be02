package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Extraction failures. ErrNoEvent means the receipt carried no recognized
// event and no fallback field; ErrInvalidAddress means an event was found but
// its address failed canonical validation. Neither case may ever produce a
// fabricated placeholder address.
var (
	ErrNoEvent        = errors.New("chain: no recognized event in receipt")
	ErrInvalidAddress = errors.New("chain: extracted address failed validation")
)

// managerDeployedTopic is the raw signature topic of the fee-split factory's
// deployment event. The deployed manager address sits in topics[1].
var managerDeployedTopic = crypto.Keccak256Hash([]byte("ManagerDeployed(address,address)"))

// poolCreatedABI describes the launcher's pool/token creation event. The
// memecoin address is the first non-indexed argument, ABI-decoded from data.
const poolCreatedABI = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true,  "name": "poolId",           "type": "bytes32"},
		{"indexed": false, "name": "memecoin",         "type": "address"},
		{"indexed": false, "name": "memecoinTreasury", "type": "address"},
		{"indexed": false, "name": "tokenId",          "type": "uint256"},
		{"indexed": false, "name": "currencyFlipped",  "type": "bool"},
		{"indexed": false, "name": "fee",              "type": "uint256"}
	],
	"name": "PoolCreated",
	"type": "event"
}]`

var poolCreated = mustEvent(poolCreatedABI, "PoolCreated")

func mustEvent(abiJSON, name string) struct {
	parsed abi.ABI
	id     common.Hash
} {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(fmt.Sprintf("chain: bad embedded ABI: %v", err))
	}
	ev, ok := parsed.Events[name]
	if !ok {
		panic("chain: event missing from embedded ABI: " + name)
	}
	return struct {
		parsed abi.ABI
		id     common.Hash
	}{parsed, ev.ID}
}

// ExtractManagerAddress finds the deployed fee-split manager in a group
// creation receipt. Scans logs in order and returns on the first match, so
// the same receipt always yields the same address. Falls back to the
// receipt's ContractAddress for direct (non-factory) deployments.
func ExtractManagerAddress(receipt *types.Receipt) (common.Address, error) {
	for _, lg := range receipt.Logs {
		if len(lg.Topics) < 2 || lg.Topics[0] != managerDeployedTopic {
			continue
		}
		addr := common.BytesToAddress(lg.Topics[1].Bytes())
		return validated(addr)
	}
	if receipt.ContractAddress != (common.Address{}) {
		return validated(receipt.ContractAddress)
	}
	return common.Address{}, ErrNoEvent
}

// ExtractCoinAddress finds the launched token address in a coin creation
// receipt via the ABI-decoded PoolCreated event. First matching log wins;
// there is no fallback field for coin launches.
func ExtractCoinAddress(receipt *types.Receipt) (common.Address, error) {
	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 0 || lg.Topics[0] != poolCreated.id {
			continue
		}
		values, err := poolCreated.parsed.Unpack("PoolCreated", lg.Data)
		if err != nil {
			return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		if len(values) == 0 {
			return common.Address{}, ErrInvalidAddress
		}
		addr, ok := values[0].(common.Address)
		if !ok {
			return common.Address{}, ErrInvalidAddress
		}
		return validated(addr)
	}
	return common.Address{}, ErrNoEvent
}

func validated(addr common.Address) (common.Address, error) {
	if addr == (common.Address{}) {
		return common.Address{}, ErrInvalidAddress
	}
	if !common.IsHexAddress(addr.Hex()) {
		return common.Address{}, ErrInvalidAddress
	}
	return addr, nil
}
