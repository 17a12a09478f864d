package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8090 || cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.WebSocket.PongWait != time.Minute || cfg.WebSocket.SendBuffer != 256 {
		t.Errorf("websocket = %+v", cfg.WebSocket)
	}
	if cfg.Typing.Timeout != 3*time.Second {
		t.Errorf("typing timeout = %v", cfg.Typing.Timeout)
	}
	if cfg.Chat.MaxContentLength != 5000 || cfg.Chat.DefaultPageSize != 50 || cfg.Chat.MaxPageSize != 100 {
		t.Errorf("chat = %+v", cfg.Chat)
	}
	if cfg.Database.Driver != "sqlite" || cfg.PubSub.Driver != "memory" || cfg.Storage.Driver != "local" {
		t.Errorf("drivers = %s %s %s", cfg.Database.Driver, cfg.PubSub.Driver, cfg.Storage.Driver)
	}
	if cfg.InstanceID == "" || cfg.PubSub.Kafka.InstanceID != cfg.InstanceID {
		t.Errorf("instance ids = %q %q", cfg.InstanceID, cfg.PubSub.Kafka.InstanceID)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("INSTANCE_ID", "node-a")
	t.Setenv("PUBSUB_DRIVER", "redis")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9001 || cfg.Auth.JWTSecret != "s3cret" || cfg.PubSub.Driver != "redis" || cfg.Log.Level != "debug" {
		t.Errorf("overrides not applied: %+v %+v %s %s", cfg.Server, cfg.Auth, cfg.PubSub.Driver, cfg.Log.Level)
	}
	if cfg.InstanceID != "node-a" || cfg.PubSub.Kafka.InstanceID != "node-a" {
		t.Errorf("instance ids = %q %q", cfg.InstanceID, cfg.PubSub.Kafka.InstanceID)
	}
}

func TestDecodeDurations(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("websocket.ping_interval", "2s")
	v.Set("chat.persist_timeout", "250ms")

	cfg, err := decode(v)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.WebSocket.PingInterval != 2*time.Second || cfg.Chat.PersistTimeout != 250*time.Millisecond {
		t.Errorf("durations = %v %v", cfg.WebSocket.PingInterval, cfg.Chat.PersistTimeout)
	}
}

func TestWatchWithoutFile(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Watch(func(*Config) {}) {
		t.Fatal("Watch should report false with no config file")
	}
}
