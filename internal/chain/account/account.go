// Package account implements the account-model chain.Adapter (EVM and
// compatible chains), grounded on common/src/chain/evm/mod.rs.
package account

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"

	"golang.org/x/time/rate"

	"github.com/barreleye/barreleye/internal/blobstore"
	"github.com/barreleye/barreleye/internal/catalog"
	"github.com/barreleye/barreleye/internal/chain"
	"github.com/barreleye/barreleye/internal/warehouse"
)

// Adapter implements chain.Adapter for account-model (EVM) networks.
type Adapter struct {
	network   catalog.Network
	client    *RPCClient
	limiter   *rate.Limiter
	connected bool
}

func NewAdapter(network catalog.Network) *Adapter {
	return &Adapter{
		network: network,
		limiter: chain.NewLimiter(network.RPS),
	}
}

func (a *Adapter) Connect(ctx context.Context) (bool, error) {
	client := NewRPCClient(a.network.RPCEndpoint)
	client.Network = a.network.Name
	if err := chain.Wait(ctx, a.limiter); err != nil {
		return false, err
	}
	if _, err := client.BlockNumber(ctx); err != nil {
		a.connected = false
		return false, nil
	}
	a.client = client
	a.connected = true
	return true, nil
}

func (a *Adapter) IsConnected() bool { return a.connected }

func (a *Adapter) Network() catalog.Network { return a.network }

func (a *Adapter) ModuleIDs() []chain.ModuleID {
	return []chain.ModuleID{chain.EvmTransfer, chain.EvmBalance, chain.EvmTokenTransfer, chain.EvmTokenBalance}
}

// FormatAddress lower-cases the hex digits of a 0x-prefixed address; EIP-55
// checksum casing is not applied. Input without a 0x prefix is returned
// unchanged.
func (a *Adapter) FormatAddress(address string) string {
	if len(address) > 2 && strings.HasPrefix(address, "0x") {
		return "0x" + strings.ToLower(address[2:])
	}
	return address
}

func (a *Adapter) RateLimit(ctx context.Context) error { return chain.Wait(ctx, a.limiter) }

func (a *Adapter) BlockHeight(ctx context.Context) (uint64, error) {
	if err := a.RateLimit(ctx); err != nil {
		return 0, err
	}
	return a.client.BlockNumber(ctx)
}

func (a *Adapter) ExtractBlock(ctx context.Context, store blobstore.BlobStore, height uint64) (bool, error) {
	if err := a.RateLimit(ctx); err != nil {
		return false, err
	}
	block, err := a.client.GetBlockByNumber(ctx, height)
	if err != nil || block.Hash == "" {
		return false, nil
	}

	blockNumber, _ := parseHexUint(block.Number)
	blockTime, _ := parseHexUint(block.Timestamp)

	partition := blobstore.Partition{}
	blocks := []extractedBlock{{Hash: block.Hash, Number: blockNumber, Timestamp: uint32(blockTime)}}
	var txs []extractedTx
	var receipts []extractedReceipt
	var logs []extractedLog

	for _, tx := range block.Transactions {
		if tx.BlockHash == nil {
			continue // still pending
		}

		if err := a.RateLimit(ctx); err != nil {
			return false, err
		}
		receipt, err := a.client.GetTransactionReceipt(ctx, tx.Hash)
		if err != nil || receipt.TransactionHash == "" {
			continue
		}

		status, _ := parseHexUint(receipt.Status)
		if status == 0 {
			// Reverted: mirrors process_block's dispatch-layer skip in
			// mod.rs, applied here instead so no module ever sees a
			// reverted transaction's value transfer or logs.
			continue
		}

		to := ""
		if tx.To != nil {
			to = *tx.To
		}
		txs = append(txs, extractedTx{
			Hash: tx.Hash, From: tx.From, To: to,
			Value: decimalFromHex(tx.Value), GasPrice: decimalFromHex(tx.GasPrice), Gas: decimalFromHex(tx.Gas),
		})
		receipts = append(receipts, extractedReceipt{TxHash: tx.Hash, Status: status, NumLogs: len(receipt.Logs)})

		for _, log := range receipt.Logs {
			logs = append(logs, extractedLog{
				TxHash: tx.Hash, Address: log.Address, Topics: log.Topics, Data: log.Data, Removed: log.Removed,
			})
		}
	}

	if err := marshalInto(partition, partitionBlocks, blocks); err != nil {
		return false, err
	}
	if err := marshalInto(partition, partitionTransactions, txs); err != nil {
		return false, err
	}
	if err := marshalInto(partition, partitionReceipts, receipts); err != nil {
		return false, err
	}
	if err := marshalInto(partition, partitionLogs, logs); err != nil {
		return false, err
	}

	if err := store.Put(a.network.Ordinal, height, partition); err != nil {
		return false, err
	}
	return true, nil
}

func marshalInto(p blobstore.Partition, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p[key] = data
	return nil
}

func unmarshalFrom[T any](p blobstore.Partition, key string) ([]T, error) {
	raw, ok := p[key]
	if !ok {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decimalFromHex(hexValue string) string {
	v := new(big.Int)
	trimmed := strings.TrimPrefix(hexValue, "0x")
	if trimmed == "" {
		return "0"
	}
	if _, ok := v.SetString(trimmed, 16); !ok {
		return "0"
	}
	return v.String()
}

// ProcessBlock re-derives transfers and balance deltas from a previously
// extracted partition. Reverted transactions never reach this stage — the
// revert-skip check (receipt.status == 0) is applied during extraction, one
// layer above the individual modules, mirroring process_block's dispatch
// loop in mod.rs rather than EvmBalance::run/EvmTokenTransfer::run.
func (a *Adapter) ProcessBlock(ctx context.Context, store blobstore.BlobStore, height uint64, modules []chain.ModuleID) (*warehouse.Batch, error) {
	partition, err := store.Get(a.network.Ordinal, height)
	if err != nil {
		return nil, err
	}
	if partition == nil {
		return nil, nil
	}

	blocks, err := unmarshalFrom[extractedBlock](partition, partitionBlocks)
	if err != nil || len(blocks) == 0 {
		return nil, err
	}
	txs, err := unmarshalFrom[extractedTx](partition, partitionTransactions)
	if err != nil {
		return nil, err
	}
	logs, err := unmarshalFrom[extractedLog](partition, partitionLogs)
	if err != nil {
		return nil, err
	}

	blockTime := blocks[0].Timestamp
	logsByTx := make(map[string][]extractedLog)
	for _, l := range logs {
		logsByTx[l.TxHash] = append(logsByTx[l.TxHash], l)
	}

	wanted := make(map[chain.ModuleID]bool, len(modules))
	for _, m := range modules {
		wanted[m] = true
	}

	batch := warehouse.NewBatch()

	for _, tx := range txs {
		if wanted[chain.EvmTransfer] {
			runTransfer(batch, a.network.Ordinal, height, blockTime, tx)
		}
		if wanted[chain.EvmBalance] {
			runBalance(batch, a.network.Ordinal, height, blockTime, tx)
		}
		if wanted[chain.EvmTokenTransfer] || wanted[chain.EvmTokenBalance] {
			runTokenModules(batch, a.network.Ordinal, height, blockTime, tx, logsByTx[tx.Hash], wanted)
		}
	}

	return batch, nil
}

