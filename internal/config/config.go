package config

import (
	"time"
)

// Version defines the build version, set at link time.
var Version string

// C holds the global configuration.
var C Config

// Config defines the configuration structure.
type Config struct {
	General struct {
		LogLevel    int  `mapstructure:"log_level"`
		LogToSyslog bool `mapstructure:"log_to_syslog"`
	}

	Redis struct {
		Servers     []string      `mapstructure:"servers"`
		URL         string        `mapstructure:"url"`
		Cluster     bool          `mapstructure:"cluster"`
		MasterName  string        `mapstructure:"master_name"`
		PoolSize    int           `mapstructure:"pool_size"`
		Database    int           `mapstructure:"database"`
		Password    string        `mapstructure:"password"`
		TLSEnabled  bool          `mapstructure:"tls_enabled"`
		DialTimeout time.Duration `mapstructure:"dial_timeout"`
	} `mapstructure:"redis"`

	// ConcentratorDedup holds the settings for the in-process, per-station
	// uplink and join deduplication cache (C2).
	ConcentratorDedup struct {
		// EntryTTL is the window, counted from the first observation of a
		// message key, during which a repeated observation of the same key
		// is still considered a duplicate of the first-seen station. Later
		// observations do not extend it.
		EntryTTL time.Duration `mapstructure:"entry_ttl"`
	} `mapstructure:"concentrator_dedup"`

	// DevAddrCache holds the settings for the shared DevAddr cache (C3),
	// its registry synchroniser (C4) and its request-time resolver (C5).
	DevAddrCache struct {
		// FullReloadLeaseTTL is the TTL applied to the fullUpdateKey lease
		// after a successful full reload (the "cooling-down" period during
		// which no node will attempt another full reload).
		FullReloadLeaseTTL time.Duration `mapstructure:"full_reload_lease_ttl"`

		// FullReloadRetryTTL is the shortened fullUpdateKey TTL applied
		// after a failed or cancelled full reload, so that the next
		// attempt happens soon instead of waiting out the full cooldown.
		FullReloadRetryTTL time.Duration `mapstructure:"full_reload_retry_ttl"`

		// GlobalUpdateLeaseTTL is the TTL applied to the globalUpdateKey
		// lease while a full or delta reload is in flight. Per-DevAddr
		// registry lookups do not take this lease (see PerDevAddrLeaseTTL).
		GlobalUpdateLeaseTTL time.Duration `mapstructure:"global_update_lease_ttl"`

		// PerDevAddrLeaseTTL bounds how long a cache-miss coalescing lease
		// for a single DevAddr is held before another node is allowed to
		// retry the registry lookup itself.
		PerDevAddrLeaseTTL time.Duration `mapstructure:"per_devaddr_lease_ttl"`

		// PerDevAddrPollInterval is how often a caller that lost the
		// per-DevAddr coalescing race polls the bucket while waiting for
		// the winner to populate it.
		PerDevAddrPollInterval time.Duration `mapstructure:"per_devaddr_poll_interval"`

		// SyncInterval is how often the background scheduler invokes
		// PerformNeededSyncs.
		SyncInterval time.Duration `mapstructure:"sync_interval"`

		// RegistryPageSize is the page size requested from the registry's
		// paginated enumeration endpoints.
		RegistryPageSize int `mapstructure:"registry_page_size"`

		// NegativeCacheTTL bounds how long a "not our device" negative
		// entry suppresses repeated registry lookups for a DevAddr before
		// it expires and the next cache miss retries the registry,
		// independent of the sync scheduler.
		NegativeCacheTTL time.Duration `mapstructure:"negative_cache_ttl"`
	} `mapstructure:"devaddr_cache"`

	IoTHub struct {
		ConnectionString string        `mapstructure:"connection_string"`
		RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"iot_hub"`

	Metrics struct {
		Prometheus struct {
			EndpointEnabled bool   `mapstructure:"endpoint_enabled"`
			Bind            string `mapstructure:"bind"`
		} `mapstructure:"prometheus"`
	} `mapstructure:"metrics"`
}
