package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatwire/chatwire/pkg/httpapi"
	"github.com/chatwire/chatwire/pkg/server"
	"github.com/chatwire/chatwire/pkg/store"
)

const (
	defaultPort    = 8888
	defaultAPIPort = 8080
	defaultDBPath  = "./data/chatwire.db"
)

var (
	port          = flag.Int("port", defaultPort, "TCP port for the chat protocol")
	apiPort       = flag.Int("api-port", defaultAPIPort, "HTTP port for the query API")
	dbPath        = flag.String("db", defaultDBPath, "Path to the SQLite database")
	fanoutWorkers = flag.Int("fanout-workers", 32, "Group fanout worker count")
	storeWorkers  = flag.Int("store-workers", 8, "Persistence worker count")
	readIdle      = flag.Duration("read-idle", 30*time.Second, "Close connections idle for this long")
)

func main() {
	flag.Parse()

	if err := os.MkdirAll("./data", 0755); err != nil {
		log.Fatalf("create data directory: %v", err)
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	log.Printf("database ready at %s", *dbPath)

	users := store.NewUserStore(db)
	friends := store.NewFriendStore(db)
	groups := store.NewGroupStore(db)
	messages := store.NewMessageStore(db)
	presence := store.NewPresence(0)

	cfg := server.DefaultConfig()
	cfg.Addr = fmt.Sprintf(":%d", *port)
	cfg.ReadIdleTimeout = *readIdle
	cfg.FanoutWorkers = *fanoutWorkers
	cfg.StoreWorkers = *storeWorkers

	srv := server.NewServer(cfg, server.Services{
		Users:    users,
		Friends:  friends,
		Groups:   groups,
		Messages: messages,
		Presence: presence,
	})
	if err := srv.Start(); err != nil {
		log.Fatalf("start chat server: %v", err)
	}

	apiCfg := httpapi.DefaultConfig()
	apiCfg.Port = *apiPort
	api := httpapi.NewServer(httpapi.Deps{
		Users:    users,
		Friends:  friends,
		Groups:   groups,
		Messages: messages,
		Presence: presence,
		Registry: srv.Registry(),
	}, apiCfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := api.Start(ctx); err != nil {
			log.Printf("http api shutdown: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received %s, shutting down", sig)

	cancel()
	if err := srv.Stop(); err != nil {
		log.Printf("stop chat server: %v", err)
	}
	log.Println("shutdown complete")
}
