package constants

import "time"

const (
	// viper keys
	ConfigFolder  = "CONFIG_FOLDER"
	StatePath     = "STATE_PATH"
	StreamsPath   = "STREAMS_PATH"
	SummaryPath   = "SUMMARY_PATH"
	EncryptionKey = "ENCRYPTION_KEY"
	LogLevel      = "LOG_LEVEL"
	MetricsAddr   = "METRICS_ADDR"

	EnvPrefix = "OLAKE_GITHUB"

	StateFileName   = "state.json"
	StreamsFileName = "streams.json"
	SummaryFileName = "sync_summary.json"
	LogFileName     = "sync.log"
)

const (
	DefaultBaseURL          = "https://api.github.com/"
	DefaultPageSize         = 100
	DefaultRequestTimeout   = 300 * time.Second
	DefaultMaxAttempts      = 5
	DefaultBackoffBase      = time.Second
	DefaultMaxBackoff       = 2 * time.Minute
	DefaultMaxRateLimitWait = 600 * time.Second
	DefaultThreadCount      = 1
)

// Replication metadata keys of the discovered catalog
const (
	MetaSelected                = "selected"
	MetaSelectedByDefault       = "selected-by-default"
	MetaInclusion               = "inclusion"
	MetaReplicationMethod       = "replication-method"
	MetaForcedReplicationMethod = "forced-replication-method"
	MetaReplicationKey          = "replication-key"
	MetaValidReplicationKeys    = "valid-replication-keys"
	MetaTableKeyProperties      = "table-key-properties"
	MetaParentStream            = "parent-tap-stream-id"

	InclusionAutomatic   = "automatic"
	InclusionAvailable   = "available"
	InclusionUnsupported = "unsupported"
)
