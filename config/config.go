package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"freyr/domain/orderbook"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Outbox OutboxConfig `mapstructure:"outbox"`
	Engine EngineConfig `mapstructure:"engine"`
	Pairs  []PairSeed   `mapstructure:"pairs"`
}

type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	TradeTopic string   `mapstructure:"trade_topic"`
	DepthTopic string   `mapstructure:"depth_topic"`
}

type OutboxConfig struct {
	Dir string `mapstructure:"dir"`
}

type EngineConfig struct {
	TradeRetention time.Duration `mapstructure:"trade_retention"`
	PruneInterval  time.Duration `mapstructure:"prune_interval"`
	DepthInterval  time.Duration `mapstructure:"depth_interval"`
	DepthLevels    int           `mapstructure:"depth_levels"`
}

// PairSeed describes a trading pair created at startup.
type PairSeed struct {
	BaseAsset  string               `mapstructure:"base_asset"`
	QuoteAsset string               `mapstructure:"quote_asset"`
	ChainID    string               `mapstructure:"chain_id"`
	Config     orderbook.PairConfig `mapstructure:",squash"`
}

// Load reads config.yaml from dir (or the working directory when empty).
// Every key has a default, so a missing file is not an error.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	} else {
		v.AddConfigPath(".")
	}

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.trade_topic", "exchange.trades")
	v.SetDefault("kafka.depth_topic", "exchange.depth")
	v.SetDefault("outbox.dir", "./outbox")
	v.SetDefault("engine.trade_retention", 7*24*time.Hour)
	v.SetDefault("engine.prune_interval", time.Hour)
	v.SetDefault("engine.depth_interval", time.Second)
	v.SetDefault("engine.depth_levels", 10)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
