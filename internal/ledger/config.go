package ledger

// Config configures a ledger store.
type Config struct {
	// Dir is the storage directory. Ignored when InMemory is set.
	Dir string `koanf:"dir"`

	// InMemory keeps all data in memory (tests and scratch targets).
	InMemory bool `koanf:"in_memory"`

	// CheckpointInterval is how many state entries lie between the
	// frontier checkpoints stored with each version. Range reads and
	// proofs start at the nearest checkpoint.
	// Default: 1024
	CheckpointInterval uint64 `koanf:"checkpoint_interval"`

	// Badger-specific configuration
	Badger BadgerConfig `koanf:"badger"`
}

// BadgerConfig contains Badger-specific tuning parameters.
// Zero values keep Badger's defaults.
type BadgerConfig struct {
	// CacheSize is the block cache size in bytes.
	// Default: 64MB
	CacheSize int64 `koanf:"cache_size"`

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 1GB
	ValueLogFileSize int64 `koanf:"value_log_file_size"`

	// NumMemtables is the number of memtables.
	// Default: 2
	NumMemtables int `koanf:"num_memtables"`

	// NumLevelZeroTables is the number of Level 0 tables before compaction.
	// Default: 5
	NumLevelZeroTables int `koanf:"num_level_zero_tables"`

	// NumLevelZeroTablesStall is the number of Level 0 tables that triggers write stall.
	// Default: 10
	NumLevelZeroTablesStall int `koanf:"num_level_zero_tables_stall"`

	// SyncWrites enables sync writes (fsync after each write).
	SyncWrites bool `koanf:"sync_writes"`
}

// DefaultCheckpointInterval is used when Config.CheckpointInterval is zero.
const DefaultCheckpointInterval = 1024

// DefaultConfig returns the default ledger configuration.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		CheckpointInterval: DefaultCheckpointInterval,
		Badger:             DefaultBadgerConfig(),
	}
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		CacheSize:               64 << 20, // 64MB
		ValueLogFileSize:        1 << 30,  // 1GB
		NumMemtables:            2,
		NumLevelZeroTables:      5,
		NumLevelZeroTablesStall: 10,
		SyncWrites:              true,
	}
}
