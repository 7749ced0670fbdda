package internal

import (
	"fmt"

	"github.com/spf13/viper"
)

type NovaSqlConfig struct {
	AppName string `mapstructure:"app_name"`

	Storage struct {
		Mode     string `mapstructure:"mode"`
		Workdir  string `mapstructure:"workdir"`
		PageSize int    `mapstructure:"page_size"`
		// RowCacheSize is the max number of decoded rows cached in front of
		// the buffer pool; <= 0 disables the row cache.
		RowCacheSize int64 `mapstructure:"row_cache_size"`
	} `mapstructure:"storage"`

	Server struct {
		Port  int  `mapstructure:"port"`
		Debug bool `mapstructure:"debug"`
	} `mapstructure:"server"`

	// Txn configures the commit pipeline. LockWaitTimeoutMs is not read by
	// the lock manager, which waits without a timeout.
	Txn struct {
		ErrorOnDirtySelect bool `mapstructure:"error_on_dirty_select"`
		LockWaitTimeoutMs  int  `mapstructure:"lock_wait_timeout_ms"`
	} `mapstructure:"txn"`

	// Security configures the default embedding-side privilege behavior.
	Security struct {
		DefaultRole string `mapstructure:"default_role"`
	} `mapstructure:"security"`
}

func DefaultConfig() *NovaSqlConfig {
	cfg := &NovaSqlConfig{AppName: "novadb"}
	cfg.Storage.Mode = "paged"
	cfg.Storage.Workdir = "./data"
	cfg.Storage.PageSize = 8192
	cfg.Storage.RowCacheSize = 100_000
	cfg.Server.Port = 7337
	cfg.Txn.ErrorOnDirtySelect = false
	cfg.Txn.LockWaitTimeoutMs = 5000
	cfg.Security.DefaultRole = "public"
	return cfg
}

func LoadConfig(path string) (*NovaSqlConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	cfg := DefaultConfig()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}
