package utxo

// RawBlock is the subset of Bitcoin Core's verbose getblock(2) response this
// adapter consumes, grounded on common/src/chain/bitcoin/models/block.rs.
type RawBlock struct {
	Hash    string  `json:"hash"`
	Height  uint64  `json:"height"`
	Time    uint32  `json:"time"`
	Version int32   `json:"version"`
	Bits    string  `json:"bits"`
	Nonce   uint32  `json:"nonce"`
	Tx      []RawTx `json:"tx"`
}

// RawTx mirrors the verbose transaction shape returned inline by getblock(2)
// and standalone by getrawtransaction(true), grounded on
// common/src/chain/bitcoin/models/transaction.rs.
type RawTx struct {
	TxID     string      `json:"txid"`
	Hash     string      `json:"hash"`
	Version  int32       `json:"version"`
	LockTime uint32      `json:"locktime"`
	VIn      []RawVIn    `json:"vin"`
	VOut     []RawVOut   `json:"vout"`
	IsCoinbase bool      `json:"-"`
}

// RawVIn mirrors common/src/chain/bitcoin/models/input.rs.
type RawVIn struct {
	TxID     string `json:"txid"`
	VOut     uint32 `json:"vout"`
	Coinbase string `json:"coinbase"`
}

// RawVOut mirrors common/src/chain/bitcoin/models/output.rs.
type RawVOut struct {
	Value        float64 `json:"value"`
	N            uint32  `json:"n"`
	ScriptPubKey struct {
		Address string `json:"address"`
		Hex     string `json:"hex"`
	} `json:"scriptPubKey"`
}

// partitionBlocks / partitionTransactions / partitionInputs / partitionOutputs
// name the Partition keys this adapter writes, mirroring the four Parquet
// files in common/src/chain/bitcoin/schema/mod.rs (Block, Transactions,
// Inputs, Outputs).
const (
	partitionBlocks       = "blocks"
	partitionTransactions = "transactions"
	partitionInputs       = "inputs"
	partitionOutputs      = "outputs"
)

// extractedBlock is the JSON shape stored under partitionBlocks — one row.
type extractedBlock struct {
	Hash    string `json:"hash"`
	Height  uint64 `json:"height"`
	Time    uint32 `json:"time"`
	Version int32  `json:"version"`
	Nonce   uint32 `json:"nonce"`
}

type extractedTx struct {
	Hash       string `json:"hash"`
	Version    int32  `json:"version"`
	LockTime   uint32 `json:"lock_time"`
	IsCoinbase bool   `json:"is_coinbase"`
	NumInputs  int    `json:"inputs"`
	NumOutputs int    `json:"outputs"`
}

type extractedInput struct {
	TxHash            string `json:"tx_hash"` // owning tx
	PreviousOutputTx  string `json:"previous_output_tx_hash"`
	PreviousOutputVOut uint32 `json:"previous_output_vout"`
}

type extractedOutput struct {
	TxHash       string `json:"tx_hash"` // owning tx
	VOut         uint32 `json:"vout"`
	Value        uint64 `json:"value"` // satoshis
	Address      string `json:"address"`
	ScriptPubKey string `json:"script_pubkey"`
}
