package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// DatadirKey is the local data directory to store the internal state of daemon
	DatadirKey = "DATADIR"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// LogFileKey is the path of the log file, logs go to stdout only if not set
	LogFileKey = "LOG_FILE"
	// LogMaxSizeKey is the size in MB after which the log file is rotated
	LogMaxSizeKey = "LOG_MAX_SIZE_MB"
	// LogMaxBackupsKey is the number of rotated log files to retain
	LogMaxBackupsKey = "LOG_MAX_BACKUPS"
	// LogMaxAgeKey is the number of days to retain rotated log files
	LogMaxAgeKey = "LOG_MAX_AGE_DAYS"
	// DbTypeKey is the type of repository, either badger or inmemory
	DbTypeKey = "DB_TYPE"
	// RepositoryTimeoutKey is the deadline of a repository transaction whose
	// context has none
	RepositoryTimeoutKey = "REPOSITORY_TIMEOUT"
	// NetworkKey is the network to use. Either mainnet, testnet or regtest
	NetworkKey = "NETWORK"

	// NodeEndpointKey is the url of the REST API of the local Qortal node
	NodeEndpointKey = "NODE_ENDPOINT"
	// NodeAPIKeyKey is the API key of the Qortal node, if required
	NodeAPIKeyKey = "NODE_API_KEY"
	// NodePollIntervalKey is the interval between two syncs with the node
	NodePollIntervalKey = "NODE_POLL_INTERVAL"
	// NodeRequestTimeoutKey is the timeout of a single call to the node
	NodeRequestTimeoutKey = "NODE_REQUEST_TIMEOUT"
	// StartHeightKey is the first block processed on an empty repository
	StartHeightKey = "START_HEIGHT"
	// MaxReorgDepthKey is the number of blocks orphaned at most when the node
	// switches to a fork
	MaxReorgDepthKey = "MAX_REORG_DEPTH"

	// ForeignChainEndpointsKey is the list of esplora explorers in the form
	// chain=url,chain=url. More urls can be given for the same chain
	ForeignChainEndpointsKey = "FOREIGN_CHAIN_ENDPOINTS"
	// ForeignRequestsPerSecondKey is the rate limit of each explorer
	ForeignRequestsPerSecondKey = "FOREIGN_REQUESTS_PER_SECOND"
	// ForeignRequestTimeoutKey is the timeout of a single call to an explorer
	ForeignRequestTimeoutKey = "FOREIGN_REQUEST_TIMEOUT"
	// ForeignWalletKeysKey is the list of WIF private keys used to fund the
	// trades, in the form chain=wif,chain=wif
	ForeignWalletKeysKey = "FOREIGN_WALLET_KEYS"
	// ForeignFeePerByteKey is the fee rate of funding transactions
	ForeignFeePerByteKey = "FOREIGN_FEE_PER_BYTE"
	// ForeignFeeKey is the fee paid by the P2SH redeem and refund transactions
	ForeignFeeKey = "FOREIGN_FEE"

	// TradeBotIntervalKey is the interval between two ticks of the trade bot
	TradeBotIntervalKey = "TRADEBOT_INTERVAL"
	// TradeBotConcurrencyKey is the max number of trades processed in parallel
	TradeBotConcurrencyKey = "TRADEBOT_CONCURRENCY"

	// TrimIntervalKey is the interval between two trim batches
	TrimIntervalKey = "TRIM_INTERVAL"
	// TrimBatchSizeKey is the number of heights handled by a trim batch
	TrimBatchSizeKey = "TRIM_BATCH_SIZE"
	// TrimLimitKey is the max number of state data trimmed by a batch
	TrimLimitKey = "TRIM_LIMIT"
	// TrimKeepBlocksKey is the number of recent blocks whose state data is kept
	TrimKeepBlocksKey = "TRIM_KEEP_BLOCKS"
	// PruneEnabledKey enables the deletion of old AT states
	PruneEnabledKey = "PRUNE_ENABLED"
	// PruneIntervalKey is the interval between two prune batches
	PruneIntervalKey = "PRUNE_INTERVAL"
	// PruneBatchSizeKey is the number of heights handled by a prune batch
	PruneBatchSizeKey = "PRUNE_BATCH_SIZE"
	// PruneKeepBlocksKey is the number of recent blocks whose states are kept
	PruneKeepBlocksKey = "PRUNE_KEEP_BLOCKS"

	// MetricsAddrKey is the address where prometheus metrics are served, if set
	MetricsAddrKey = "METRICS_ADDR"
	// StatsIntervalKey defines interval for printing memory statistics, 0
	// disables them
	StatsIntervalKey = "STATS_INTERVAL"

	DbLocation  = "db"
	LogLocation = "logs"

	DbTypeBadger   = "badger"
	DbTypeInmemory = "inmemory"

	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
	NetworkRegtest = "regtest"
)

var vip *viper.Viper
var defaultDatadir = btcutil.AppDataDir("qortd", false)

func init() {
	vip = viper.New()
	vip.SetEnvPrefix("QORTD")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(LogMaxSizeKey, 100)
	vip.SetDefault(LogMaxBackupsKey, 5)
	vip.SetDefault(LogMaxAgeKey, 30)
	vip.SetDefault(DbTypeKey, DbTypeBadger)
	vip.SetDefault(RepositoryTimeoutKey, 30*time.Second)
	vip.SetDefault(NetworkKey, NetworkMainnet)
	vip.SetDefault(NodeEndpointKey, "http://localhost:12391")
	vip.SetDefault(NodePollIntervalKey, 10*time.Second)
	vip.SetDefault(NodeRequestTimeoutKey, 15*time.Second)
	vip.SetDefault(StartHeightKey, 1)
	vip.SetDefault(MaxReorgDepthKey, 100)
	vip.SetDefault(ForeignChainEndpointsKey, "LITECOIN=https://litecoinspace.org/api")
	vip.SetDefault(ForeignRequestsPerSecondKey, 5)
	vip.SetDefault(ForeignRequestTimeoutKey, 15*time.Second)
	vip.SetDefault(ForeignFeePerByteKey, 10)
	vip.SetDefault(ForeignFeeKey, 3000)
	vip.SetDefault(TradeBotIntervalKey, 5*time.Second)
	vip.SetDefault(TradeBotConcurrencyKey, 4)
	vip.SetDefault(TrimIntervalKey, 5*time.Second)
	vip.SetDefault(TrimBatchSizeKey, 100)
	vip.SetDefault(TrimLimitKey, 1000)
	vip.SetDefault(TrimKeepBlocksKey, 1440)
	vip.SetDefault(PruneEnabledKey, false)
	vip.SetDefault(PruneIntervalKey, 10*time.Second)
	vip.SetDefault(PruneBatchSizeKey, 100)
	vip.SetDefault(PruneKeepBlocksKey, 1440*30)
	vip.SetDefault(StatsIntervalKey, 0)
}

//GetString ...
func GetString(key string) string {
	return vip.GetString(key)
}

//GetInt ...
func GetInt(key string) int {
	return vip.GetInt(key)
}

//GetUint64 ...
func GetUint64(key string) uint64 {
	return vip.GetUint64(key)
}

//GetDuration ...
func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

//GetBool ...
func GetBool(key string) bool {
	return vip.GetBool(key)
}

// Set a value for the given key
func Set(key string, value interface{}) {
	vip.Set(key, value)
}

// IsSet returns whether the give key is set
func IsSet(key string) bool {
	return vip.IsSet(key)
}

// GetDatadir ...
func GetDatadir() string {
	return GetString(DatadirKey)
}

// GetDbDir returns the directory of the repository of the configured
// network. It is empty for the inmemory type.
func GetDbDir() string {
	if GetString(DbTypeKey) == DbTypeInmemory {
		return ""
	}
	return filepath.Join(GetDatadir(), GetString(NetworkKey), DbLocation)
}

// GetForeignChainEndpoints returns the explorer urls grouped by foreign
// blockchain, in the configured order.
func GetForeignChainEndpoints() (map[string][]string, error) {
	pairs, err := parsePairs(GetString(ForeignChainEndpointsKey))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ForeignChainEndpointsKey, err)
	}
	endpoints := make(map[string][]string)
	for _, p := range pairs {
		if _, err := url.ParseRequestURI(p[1]); err != nil {
			return nil, fmt.Errorf("invalid explorer url %s: %w", p[1], err)
		}
		endpoints[p[0]] = append(endpoints[p[0]], p[1])
	}
	return endpoints, nil
}

// GetForeignWalletKeys returns the WIF key of the wallet of every foreign
// blockchain that has one.
func GetForeignWalletKeys() (map[string]string, error) {
	pairs, err := parsePairs(GetString(ForeignWalletKeysKey))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ForeignWalletKeysKey, err)
	}
	keys := make(map[string]string)
	for _, p := range pairs {
		if _, ok := keys[p[0]]; ok {
			return nil, fmt.Errorf("duplicated wallet key for %s", p[0])
		}
		keys[p[0]] = p[1]
	}
	return keys, nil
}

// Validate checks the configuration and creates the datadir if missing.
func Validate() error {
	if err := validate(); err != nil {
		return err
	}
	return initDatadir()
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("datadir must not be null")
	}

	level := GetInt(LogLevelKey)
	if level < int(log.PanicLevel) || level > int(log.TraceLevel) {
		return fmt.Errorf("log level must be in range [%d, %d]", log.PanicLevel, log.TraceLevel)
	}

	dbType := GetString(DbTypeKey)
	if dbType != DbTypeBadger && dbType != DbTypeInmemory {
		return fmt.Errorf(
			"db type must be either '%s' or '%s'", DbTypeBadger, DbTypeInmemory,
		)
	}

	networkName := GetString(NetworkKey)
	if networkName != NetworkMainnet &&
		networkName != NetworkTestnet &&
		networkName != NetworkRegtest {
		return fmt.Errorf(
			"network must be either '%s', '%s' or '%s'",
			NetworkMainnet, NetworkTestnet, NetworkRegtest,
		)
	}

	if _, err := url.ParseRequestURI(GetString(NodeEndpointKey)); err != nil {
		return fmt.Errorf("node endpoint is not a valid url: %s", err)
	}

	if _, err := GetForeignChainEndpoints(); err != nil {
		return err
	}
	if _, err := GetForeignWalletKeys(); err != nil {
		return err
	}

	for _, key := range []string{
		NodePollIntervalKey, TradeBotIntervalKey, TrimIntervalKey,
		PruneIntervalKey,
	} {
		if GetDuration(key) <= 0 {
			return fmt.Errorf("%s must be a positive duration", key)
		}
	}
	for _, key := range []string{
		TrimBatchSizeKey, PruneBatchSizeKey, TradeBotConcurrencyKey,
		ForeignRequestsPerSecondKey, StartHeightKey,
	} {
		if GetInt(key) <= 0 {
			return fmt.Errorf("%s must be a positive number", key)
		}
	}
	for _, key := range []string{
		TrimKeepBlocksKey, PruneKeepBlocksKey, MaxReorgDepthKey, TrimLimitKey,
	} {
		if GetInt(key) < 0 {
			return fmt.Errorf("%s must not be a negative number", key)
		}
	}
	return nil
}

// parsePairs parses a list like "a=1,b=2".
func parsePairs(value string) ([][2]string, error) {
	pairs := make([][2]string, 0)
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, fmt.Errorf("invalid entry %q, must be in the form key=value", entry)
		}
		pairs = append(pairs, [2]string{strings.ToUpper(kv[0]), kv[1]})
	}
	return pairs, nil
}

func initDatadir() error {
	if dbDir := GetDbDir(); dbDir != "" {
		if err := makeDirectoryIfNotExists(dbDir); err != nil {
			return err
		}
	}
	if logFile := GetString(LogFileKey); logFile != "" {
		if err := makeDirectoryIfNotExists(filepath.Dir(logFile)); err != nil {
			return err
		}
	}
	return nil
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
