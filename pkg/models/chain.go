package models

// ChainEndpoint describes one EVM JSON-RPC endpoint the engine indexes.
// Constructed once at startup from configuration and never mutated.
type ChainEndpoint struct {
	ChainID       int64  `json:"chainId"`
	Name          string `json:"name"`
	RPCURL        string `json:"rpcUrl"`
	ChunkSize     uint64 `json:"chunkSize"`     // max blocks per eth_getLogs window
	Confirmations uint64 `json:"confirmations"` // blocks behind head the indexers trail
}

// Checkpoint statuses. A worker owns exactly one checkpoint row and is the
// only writer for it.
const (
	CheckpointIdle     = "idle"
	CheckpointRunning  = "running"
	CheckpointComplete = "complete"
	CheckpointError    = "error"
)

// IndexerCheckpoint is the resumable cursor for one logical indexer worker.
type IndexerCheckpoint struct {
	Name             string `json:"name"`
	Kind             string `json:"kind"` // stake|swap|reward|bridge|hunt|tournament|tavern|aggregator
	Pid              int    `json:"pid"`  // -1 when the worker is not pool-scoped
	ShardStart       uint64 `json:"shardStart"`
	ShardEnd         uint64 `json:"shardEnd"` // 0 = open-ended shard (follow head)
	LastIndexedBlock uint64 `json:"lastIndexedBlock"`
	GenesisBlock     uint64 `json:"genesisBlock"`
	Status           string `json:"status"`
	EventsIndexed    int64  `json:"eventsIndexed"`
	BatchesRun       int64  `json:"batchesRun"`
	LastBatchMs      int64  `json:"lastBatchMs"`
	LastError        string `json:"lastError,omitempty"`
	UpdatedAt        int64  `json:"updatedAt"` // unix seconds
}
