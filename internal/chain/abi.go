package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const oracleABIJSON = `[
  {"type":"function","name":"latestTaskNum","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint32"}]},
  {"type":"function","name":"taskStatus","stateMutability":"view","inputs":[{"name":"","type":"uint32"}],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"taskRespondents","stateMutability":"view","inputs":[{"name":"","type":"uint32"}],"outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"tasks","stateMutability":"view","inputs":[{"name":"","type":"uint32"}],"outputs":[{"name":"name","type":"string"},{"name":"taskCreatedBlock","type":"uint32"}]},
  {"type":"function","name":"createNewTask","stateMutability":"nonpayable","inputs":[{"name":"name","type":"string"}],"outputs":[]},
  {"type":"function","name":"respondToTask","stateMutability":"nonpayable","inputs":[{"name":"referenceTaskIndex","type":"uint32"},{"name":"decision","type":"bool"},{"name":"signature","type":"bytes"}],"outputs":[]},
  {"type":"event","name":"NewTaskCreated","anonymous":false,"inputs":[{"name":"taskIndex","type":"uint32","indexed":true},{"name":"task","type":"tuple","indexed":false,"components":[{"name":"name","type":"string"},{"name":"taskCreatedBlock","type":"uint32"}]}]}
]`

const registryABIJSON = `[
  {"type":"function","name":"isRegistered","stateMutability":"view","inputs":[{"name":"agent","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getAllAgents","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"registerAgent","stateMutability":"nonpayable","inputs":[{"name":"agent","type":"address"}],"outputs":[]}
]`

const marketABIJSON = `[
  {"type":"function","name":"taskToMarketId","stateMutability":"view","inputs":[{"name":"taskIndex","type":"uint32"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getMarketState","stateMutability":"view","inputs":[{"name":"marketId","type":"uint256"}],"outputs":[{"name":"","type":"uint8"}]}
]`

var (
	OracleABI   = mustParse(oracleABIJSON)
	RegistryABI = mustParse(registryABIJSON)
	MarketABI   = mustParse(marketABIJSON)
)

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded abi: %v", err))
	}
	return parsed
}

// PackRespond encodes the oracle response call.
func PackRespond(index uint32, decision bool, signature []byte) ([]byte, error) {
	return OracleABI.Pack("respondToTask", index, decision, signature)
}

func PackCreateTask(name string) ([]byte, error) {
	return OracleABI.Pack("createNewTask", name)
}

func PackRegister(agent common.Address) ([]byte, error) {
	return RegistryABI.Pack("registerAgent", agent)
}

// CreatedTaskIndex pulls the task index out of a NewTaskCreated log emitted
// by oracle in receipt.
func CreatedTaskIndex(receipt *types.Receipt, oracle common.Address) (uint32, bool) {
	if receipt == nil {
		return 0, false
	}
	topic := OracleABI.Events["NewTaskCreated"].ID
	for _, lg := range receipt.Logs {
		if lg.Address != oracle || len(lg.Topics) < 2 || lg.Topics[0] != topic {
			continue
		}
		idx := new(big.Int).SetBytes(lg.Topics[1].Bytes())
		if !idx.IsUint64() || idx.Uint64() > uint64(^uint32(0)) {
			return 0, false
		}
		return uint32(idx.Uint64()), true
	}
	return 0, false
}
