package account

// RawBlock mirrors eth_getBlockByNumber's full-transaction-object shape,
// grounded on common/src/chain/evm/models/block.rs.
type RawBlock struct {
	Hash         string  `json:"hash"`
	Number       string  `json:"number"`
	ParentHash   string  `json:"parentHash"`
	Timestamp    string  `json:"timestamp"`
	Transactions []RawTx `json:"transactions"`
}

// RawTx mirrors common/src/chain/evm/models/transaction.rs.
type RawTx struct {
	Hash        string  `json:"hash"`
	Nonce       string  `json:"nonce"`
	From        string  `json:"from"`
	To          *string `json:"to"`
	Value       string  `json:"value"`
	GasPrice    string  `json:"gasPrice"`
	Gas         string  `json:"gas"`
	BlockHash   *string `json:"blockHash"`
	Type        string  `json:"type"`
}

// RawReceipt mirrors common/src/chain/evm/schema/receipt.rs.
type RawReceipt struct {
	TransactionHash string   `json:"transactionHash"`
	Status          string   `json:"status"`
	ContractAddress *string  `json:"contractAddress"`
	GasUsed         string   `json:"gasUsed"`
	Logs            []RawLog `json:"logs"`
}

// RawLog mirrors common/src/chain/evm/schema/log.rs.
type RawLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
	Removed bool     `json:"removed"`
}

const (
	partitionBlocks       = "blocks"
	partitionTransactions = "transactions"
	partitionReceipts     = "receipts"
	partitionLogs         = "logs"
)

type extractedBlock struct {
	Hash      string `json:"hash"`
	Number    uint64 `json:"number"`
	Timestamp uint32 `json:"timestamp"`
}

type extractedTx struct {
	Hash     string `json:"hash"`
	From     string `json:"from"`
	To       string `json:"to"` // empty for contract deploys
	Value    string `json:"value"` // decimal wei
	GasPrice string `json:"gas_price"`
	Gas      string `json:"gas"`
}

type extractedReceipt struct {
	TxHash  string `json:"tx_hash"`
	Status  uint64 `json:"status"` // 0 = reverted, 1 = success
	NumLogs int    `json:"logs"`
}

type extractedLog struct {
	TxHash  string   `json:"tx_hash"`
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
	Removed bool     `json:"removed"`
}

// ERC-20 Transfer(address,address,uint256) event topic0, reused verbatim
// from common/src/chain/evm/mod.rs's TRANSFER_FROM_TO_AMOUNT constant.
const erc20TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
