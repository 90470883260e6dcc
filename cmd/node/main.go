package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/celldex/params"
	"github.com/uhyunpark/celldex/pkg/abci"
	"github.com/uhyunpark/celldex/pkg/api"
	"github.com/uhyunpark/celldex/pkg/app/dealmaker"
	"github.com/uhyunpark/celldex/pkg/app/devnet"
	"github.com/uhyunpark/celldex/pkg/crypto"
	"github.com/uhyunpark/celldex/pkg/events"
	"github.com/uhyunpark/celldex/pkg/storage"
	"github.com/uhyunpark/celldex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (console, plus file when configured)
	var logger *zap.Logger
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	} else {
		logger, err = util.NewLogger(cfg.Node.Verbose)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "verbose", cfg.Node.Verbose)

	// ---- Dealmaker key (funded at genesis when enabled) ----
	var dmSigner *crypto.Signer
	if cfg.Dealmaker.Enabled {
		dmSigner, err = crypto.FromPrivateKeyHex(cfg.Dealmaker.PrivateKey)
		if err != nil {
			sugar.Fatalw("dealmaker_key_invalid", "err", err)
		}
	}

	// ---- Store + App ----
	store, err := storage.NewPebbleStore(cfg.Node.DataDir)
	if err != nil {
		sugar.Fatalw("store_open_failed", "dir", cfg.Node.DataDir, "err", err)
	}
	defer store.Close()

	app, err := devnet.NewApp(store, genesisFrom(cfg, dmSigner), sugar)
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}
	producer := abci.NewProducer(app, util.RealClock{}, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Block stream (optional) ----
	// Enable with: EVENTS_KAFKA_BROKERS=host:9092
	if len(cfg.Events.KafkaBrokers) > 0 {
		pub := events.NewPublisher(
			events.NewKafkaSink(cfg.Events.KafkaBrokers, cfg.Events.Topic),
			app.Codes().IsOrderLock,
			sugar,
		)
		defer pub.Close()
		app.OnCommit(pub.OnCommit)
		sugar.Infow("events_enabled", "brokers", cfg.Events.KafkaBrokers, "topic", cfg.Events.Topic)
	}

	// ---- API Server ----
	apiServer := api.NewServer(app, producer, cfg.Node.AllowedOrigins, sugar)
	go func() {
		if err := apiServer.Start(ctx, cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// ---- Dealmaker (optional) ----
	if dmSigner != nil {
		bot := dealmaker.NewBot(app, dmSigner, dealmaker.Config{
			Interval: cfg.Dealmaker.Interval,
			MinerFee: cfg.Dealmaker.MinerFee,
		}, util.RealClock{}, sugar)
		go bot.Run(ctx)
		sugar.Infow("dealmaker_enabled", "address", dmSigner.Address().Hex(), "interval", cfg.Dealmaker.Interval)
	}

	st, err := app.Status()
	if err != nil {
		sugar.Fatalw("status_failed", "err", err)
	}
	sugar.Infow("node_starting",
		"height", st.Height,
		"api_addr", cfg.Node.APIAddr,
		"block_interval", cfg.Node.BlockInterval,
		"order_lock", st.Codes.OrderLock.CodeHash.Hex())

	if cfg.Node.BlockInterval > 0 {
		producer.Run(ctx, cfg.Node.BlockInterval)
	} else {
		// Blocks only on demand through POST /chain/blocks
		<-ctx.Done()
	}
	sugar.Info("node_stopped")
}

func genesisFrom(cfg params.Config, dm *crypto.Signer) devnet.Genesis {
	g := devnet.Genesis{Timestamp: cfg.Genesis.Timestamp}
	if cfg.Genesis.OwnerAddress != (common.Address{}) {
		g.Cells = append(g.Cells, devnet.GenesisCell{Address: cfg.Genesis.OwnerAddress, Capacity: cfg.Genesis.Capacity})
	}
	if dm != nil {
		g.Cells = append(g.Cells, devnet.GenesisCell{Address: dm.Address(), Capacity: cfg.Genesis.Capacity})
	}
	return g
}
