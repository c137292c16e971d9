package account

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/barreleye/barreleye/internal/amount"
	"github.com/barreleye/barreleye/internal/chain"
	"github.com/barreleye/barreleye/internal/warehouse"
)

func blockTimeToTime(unixSeconds uint32) time.Time {
	return time.Unix(int64(unixSeconds), 0).UTC()
}

// runTransfer emits the native-asset Transfer fact for a plain value move:
// if tx.value > 0 and tx.to is set and tx.from != tx.to, emit a single
// Transfer row for the full value, asset_address left empty for the
// network's native asset. Built by analogy to runBalance's own skip
// conditions (no EVM transfer.rs was in the retrieved source set, only
// erc20_transfer.rs and balance.rs — see DESIGN.md), since both modules
// gate on the exact same tx shape and spec.md §4.4.1 states the Transfer
// module's condition explicitly.
func runTransfer(batch *warehouse.Batch, networkID int64, height uint64, blockTime uint32, tx extractedTx) {
	if tx.Value == "" || tx.Value == "0" {
		return
	}
	if tx.To == "" {
		return
	}
	if tx.From == tx.To {
		return
	}

	value, err := amount.FromDecimal(tx.Value)
	if err != nil || value.IsZero() {
		return
	}

	batch.AddTransfer(warehouse.Transfer{
		UUID:           uuid.New(),
		ModuleID:       int(chain.EvmTransfer),
		NetworkID:      networkID,
		BlockHeight:    height,
		TxHash:         tx.Hash,
		FromAddress:    tx.From,
		ToAddress:      tx.To,
		AssetAddress:   "",
		RelativeAmount: value,
		BatchAmount:    value,
		CreatedAt:      blockTimeToTime(blockTime),
	})
}

// runBalance ports EvmBalance::run: a plain value transfer produces one
// amount_out row for the sender and one amount_in row for the recipient.
// Zero-value transfers, contract deploys (tx.To == ""), and self-sends are
// skipped exactly as the reference module does.
func runBalance(batch *warehouse.Batch, networkID int64, height uint64, blockTime uint32, tx extractedTx) {
	if tx.Value == "" || tx.Value == "0" {
		return
	}
	if tx.To == "" {
		return
	}
	if tx.From == tx.To {
		return
	}

	value, err := amount.FromDecimal(tx.Value)
	if err != nil {
		return
	}
	zero := amount.Zero()
	createdAt := blockTimeToTime(blockTime)

	batch.AddAmount(warehouse.Amount{
		ModuleID: int(chain.EvmBalance), NetworkID: networkID, BlockHeight: height,
		TxHash: tx.Hash, Address: tx.From, AssetAddress: "",
		AmountIn: zero, AmountOut: value, CreatedAt: createdAt,
	})
	batch.AddAmount(warehouse.Amount{
		ModuleID: int(chain.EvmBalance), NetworkID: networkID, BlockHeight: height,
		TxHash: tx.Hash, Address: tx.To, AssetAddress: "",
		AmountIn: value, AmountOut: zero, CreatedAt: createdAt,
	})
}

// runTokenModules ports EvmErc20Transfer::run, plus a EvmTokenBalance
// analogue built the same way runBalance derives from EvmBalance: for every
// non-removed log matching the ERC-20 Transfer(address,address,uint256)
// topic with a nonzero amount, emit a Transfer fact (if requested) and a
// pair of per-asset Amount rows (if requested).
func runTokenModules(batch *warehouse.Batch, networkID int64, height uint64, blockTime uint32, tx extractedTx, logs []extractedLog, wanted map[chain.ModuleID]bool) {
	createdAt := blockTimeToTime(blockTime)

	for _, log := range logs {
		if log.Removed {
			continue
		}
		from, to, amt, ok := decodeERC20Transfer(log)
		if !ok || amt.IsZero() {
			continue
		}

		if wanted[chain.EvmTokenTransfer] {
			batch.AddTransfer(warehouse.Transfer{
				UUID:           uuid.New(),
				ModuleID:       int(chain.EvmTokenTransfer),
				NetworkID:      networkID,
				BlockHeight:    height,
				TxHash:         tx.Hash,
				FromAddress:    from,
				ToAddress:      to,
				AssetAddress:   log.Address,
				RelativeAmount: amt,
				BatchAmount:    amt,
				CreatedAt:      createdAt,
			})
		}

		if wanted[chain.EvmTokenBalance] {
			zero := amount.Zero()
			batch.AddAmount(warehouse.Amount{
				ModuleID: int(chain.EvmTokenBalance), NetworkID: networkID, BlockHeight: height,
				TxHash: tx.Hash, Address: from, AssetAddress: log.Address,
				AmountIn: zero, AmountOut: amt, CreatedAt: createdAt,
			})
			batch.AddAmount(warehouse.Amount{
				ModuleID: int(chain.EvmTokenBalance), NetworkID: networkID, BlockHeight: height,
				TxHash: tx.Hash, Address: to, AssetAddress: log.Address,
				AmountIn: amt, AmountOut: zero, CreatedAt: createdAt,
			})
		}
	}
}

// decodeERC20Transfer matches Evm::get_topic: topics[0] must be the
// Transfer event signature, from/to are left-padded-to-32-byte addresses in
// topics[1]/topics[2], and the amount is the non-indexed data word.
func decodeERC20Transfer(log extractedLog) (from, to string, amt amount.U256, ok bool) {
	if len(log.Topics) != 3 || log.Topics[0] != erc20TransferTopic {
		return "", "", amount.Zero(), false
	}
	from = addressFromTopic(log.Topics[1])
	to = addressFromTopic(log.Topics[2])

	word := strings.TrimLeft(strings.TrimPrefix(log.Data, "0x"), "0")
	if word == "" {
		word = "0"
	}
	v, err := amount.FromHex("0x" + word)
	if err != nil {
		return "", "", amount.Zero(), false
	}
	return from, to, v, true
}

// addressFromTopic extracts the low 20 bytes (40 hex chars) of a 32-byte
// topic word, the standard ABI encoding for an indexed address parameter.
func addressFromTopic(topic string) string {
	hexPart := topic
	if len(hexPart) >= 2 && hexPart[:2] == "0x" {
		hexPart = hexPart[2:]
	}
	if len(hexPart) < 40 {
		return "0x" + hexPart
	}
	return "0x" + hexPart[len(hexPart)-40:]
}
