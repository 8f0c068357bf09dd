package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/Rupe88/doc-ai-sub002/internal/cache"
	"github.com/Rupe88/doc-ai-sub002/internal/collab"
	"github.com/Rupe88/doc-ai-sub002/internal/httpapi/handlers"
	"github.com/Rupe88/doc-ai-sub002/internal/httpapi/middleware"
	"github.com/Rupe88/doc-ai-sub002/internal/session"
	"github.com/Rupe88/doc-ai-sub002/internal/store"
	"github.com/Rupe88/doc-ai-sub002/internal/suggest"
	"github.com/Rupe88/doc-ai-sub002/internal/ws"
)

type CollabConfig struct {
	Running struct {
		Port           int      `mapstructure:"Port"`
		AllowedOrigins []string `mapstructure:"allowedOrigins"`
	} `mapstructure:"Running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"Mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"Redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"Kafka"`
	Auth struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"Auth"`
	Collab struct {
		// "last-writer-wins" 或 "reject-stale"
		ConflictPolicy string `mapstructure:"conflictPolicy"`
	} `mapstructure:"Collab"`
	Suggest struct {
		DebounceMS    int    `mapstructure:"debounceMs"`
		ContextLines  int    `mapstructure:"contextLines"`
		TimeoutMS     int    `mapstructure:"timeoutMs"`
		MaxInFlight   int    `mapstructure:"maxInFlight"`
		Model         string `mapstructure:"model"`
		APIKeyEnvName string `mapstructure:"apiKeyEnv"`
	} `mapstructure:"Suggest"`
	Presence struct {
		TTLSeconds       int `mapstructure:"ttlSeconds"`
		CursorTTLSeconds int `mapstructure:"cursorTtlSeconds"`
	} `mapstructure:"Presence"`
}

func initConfig() (*CollabConfig, error) {
	cfg := &CollabConfig{}
	v := viper.New()
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	gormDB, err := gorm.Open(gormmysql.Open(cfg.Mysql.DSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatalf("Failed to get sql db: %v", err)
	}
	defer sqlDB.Close()

	// === Kafka Producer ===
	kafkaCfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Fatalf("Failed to connect kafka: %v", err)
	}
	defer producer.Close()

	documentStore := store.NewDocumentStore(gormDB)
	userStore := store.NewUserStore(gormDB)
	snapshotStore := store.NewSnapshotStore(sqlDB)
	presenceCache := cache.NewRedisPresence(rdb)

	kafkaSem := collab.NewSemaphoreControl(100)
	kafkaDispatcher := collab.NewKafkaDispatcher(
		producer,
		cfg.Kafka.Topic,
		kafkaSem,
		collab.KafkaDispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		},
	)

	registry := session.NewRegistry(documentStore, userStore)
	editor := collab.NewEditor(documentStore, snapshotStore, kafkaDispatcher,
		collab.ConflictPolicy(cfg.Collab.ConflictPolicy))

	cursorTTL := time.Duration(cfg.Presence.CursorTTLSeconds) * time.Second
	tracker := session.NewTracker(presenceCache, cursorTTL)

	hub := ws.NewHub()
	completion := suggest.NewOpenAIClient(os.Getenv(apiKeyEnv(cfg)), cfg.Suggest.Model)
	suggestSem := collab.NewSemaphoreControl(cfg.Suggest.MaxInFlight)
	scheduler := suggest.NewScheduler(completion, ws.SuggestionPublisher(hub), suggestSem, suggest.Options{
		Debounce:     time.Duration(cfg.Suggest.DebounceMS) * time.Millisecond,
		ContextLines: cfg.Suggest.ContextLines,
		Timeout:      time.Duration(cfg.Suggest.TimeoutMS) * time.Millisecond,
	})

	presenceTTL := time.Duration(cfg.Presence.TTLSeconds) * time.Second
	dispatcher := ws.NewDispatcher(editor, tracker, scheduler, hub, presenceCache, presenceTTL)
	manager := ws.NewManager(hub, registry, dispatcher, scheduler, presenceCache, presenceTTL, cfg.Running.AllowedOrigins)
	sessionHandlers := handlers.NewSessionHandlers(registry)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	collabGroup := r.Group("/collab")
	collabGroup.GET("/healthz", handlers.Healthz)
	authed := collabGroup.Group("")
	authed.Use(middleware.AuthMiddleware(cfg.Auth.Secret))
	authed.GET("/ws", manager.WebSocketConnect)
	authed.GET("/sessions", sessionHandlers.ListActive)

	port := cfg.Running.Port
	_ = r.Run(fmt.Sprintf(":%d", port))
}

func apiKeyEnv(cfg *CollabConfig) string {
	if cfg.Suggest.APIKeyEnvName != "" {
		return cfg.Suggest.APIKeyEnvName
	}
	return "OPENAI_API_KEY"
}
