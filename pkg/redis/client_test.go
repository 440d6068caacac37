package redis

import (
	"testing"
	"time"

	"github.com/HaoranTong/inventory-engine/pkg/config"
)

func TestOptionsFromConfig_URL(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{
		URL:         "redis://:pw@localhost:6379/2",
		PoolSize:    7,
		DialTimeout: 3 * time.Second,
	})
	if err != nil {
		t.Fatalf("optionsFromConfig: %v", err)
	}
	if opts.Addr != "localhost:6379" {
		t.Fatalf("unexpected addr: %s", opts.Addr)
	}
	if opts.DB != 2 {
		t.Fatalf("unexpected db: %d", opts.DB)
	}
	if opts.PoolSize != 7 {
		t.Fatalf("pool size not applied: %d", opts.PoolSize)
	}
}

func TestOptionsFromConfig_AddressFallback(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{Address: "cache:6379", Password: "pw", DB: 1})
	if err != nil {
		t.Fatalf("optionsFromConfig: %v", err)
	}
	if opts.Addr != "cache:6379" || opts.Password != "pw" || opts.DB != 1 {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestOptionsFromConfig_Missing(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error when neither url nor address provided")
	}
}

func TestKeyBuilders(t *testing.T) {
	c := &Client{}
	if got := c.StockKey("SKU-9"); got != "inv:stock:SKU-9" {
		t.Fatalf("stock key: %s", got)
	}
	if got := c.SweepLockKey("prod"); got != "inv:sweep_lock:prod" {
		t.Fatalf("sweep lock key: %s", got)
	}
	if got := c.SweepLockKey(""); got != "inv:sweep_lock:local" {
		t.Fatalf("sweep lock key fallback: %s", got)
	}
}
