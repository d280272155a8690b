package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/redis/go-redis/v9"

	"github.com/fbarrella/reson8/broker"
	"github.com/fbarrella/reson8/config"
	"github.com/fbarrella/reson8/logging"
	"github.com/fbarrella/reson8/permission"
	"github.com/fbarrella/reson8/presence"
	"github.com/fbarrella/reson8/service"
	"github.com/fbarrella/reson8/session"
	"github.com/fbarrella/reson8/sfu"
	"github.com/fbarrella/reson8/snowflake"
	"github.com/fbarrella/reson8/store"
	"github.com/fbarrella/reson8/transport"
)

func iceServers(cfg config.Config) []webrtc.ICEServer {
	if cfg.TURNURL == "" {
		return nil
	}
	return []webrtc.ICEServer{{
		URLs:       []string{cfg.TURNURL},
		Username:   cfg.TURNUsername,
		Credential: cfg.TURNCredential,
	}}
}

func main() {
	fmt.Println("Loading config...")
	cfg, err := config.Load("config.json")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	sugar, err := logging.New(cfg.LogFile)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer sugar.Sync()

	if err := snowflake.Setup(cfg.SnowflakeWorkerID); err != nil {
		sugar.Fatal(err)
	}

	sugar.Info("connecting to durable store...")
	st, err := store.Setup(cfg, sugar)
	if err != nil {
		sugar.Fatal(err)
	}
	defer st.Close()

	var presenceStore presence.Store
	var roomBroker broker.Broker
	var redisClient *redis.Client

	if cfg.SelfContained {
		sugar.Info("running self-contained: in-process presence and broker")
		presenceStore = presence.NewMemoryStore(sugar, presence.DefaultTTL)
	} else {
		sugar.Infof("connecting to redis presence/broker backend at %s", cfg.PresenceURL)
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.PresenceURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			sugar.Fatal(err)
		}
		presenceStore = presence.NewRedisStore(redisClient, sugar, presence.DefaultTTL)
	}

	manager := session.NewManager(sugar)

	if cfg.SelfContained {
		roomBroker = broker.NewLocalBroker(manager, sugar)
	} else {
		roomBroker = broker.NewRedisBroker(redisClient, manager, sugar)
	}

	coordinator := sfu.NewCoordinator(iceServers(cfg), sugar, func(workerID int) {
		sugar.Fatalf("sfu: worker %d died, exiting", workerID)
	})
	coordinator.SetOnProducerClosed(func(channelID int64, userID, producerID string) {
		room := broker.Key(broker.RoomChannel, channelID)
		if err := roomBroker.Publish(context.Background(), room, session.OutProducerClosed, struct {
			ProducerID string `json:"producerId"`
			UserID     string `json:"userId"`
		}{producerID, userID}); err != nil {
			sugar.Errorf("sfu: broadcasting PRODUCER_CLOSED after transport failure: %v", err)
		}
	})

	manager.Store = st
	manager.Presence = presenceStore
	manager.Broker = roomBroker
	manager.SFU = coordinator
	manager.Evaluator = permission.NewEvaluator()
	manager.AdminInstanceID = cfg.AdminInstanceID
	manager.Messages = service.NewMessage(st, roomBroker, sugar)
	manager.Channels = service.NewChannel(st, presenceStore, roomBroker, sugar)
	manager.Admin = service.NewAdmin(st)
	manager.Roles = service.NewRole(st, sugar)

	serverID, err := snowflake.Generate()
	if err != nil {
		sugar.Fatal(err)
	}
	if err := manager.Bootstrap(context.Background(), serverID, cfg.ServerName, cfg.ServerAddress, cfg.MaxClients, cfg.SeedTemplate); err != nil {
		sugar.Fatal(err)
	}

	wsServer := transport.NewWebSocketServer(manager, sugar)
	router := transport.NewRouter(wsServer, sugar)

	httpServer := &http.Server{
		Addr:    cfg.Address(),
		Handler: router,
	}

	go func() {
		sugar.Infof("reson8 signaling server listening on %s", cfg.Address())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatal(err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	<-shutdown

	sugar.Info("shutting down: closing SFU, transport, then stores")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coordinator.Close()

	if err := httpServer.Shutdown(ctx); err != nil {
		sugar.Errorf("shutting down http server: %v", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}
