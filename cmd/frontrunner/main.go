package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/flashbots/go-utils/cli"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	redisadapter "github.com/spitfirest/frontrunner/adapters/redis"
	"github.com/spitfirest/frontrunner/exchange"
	"github.com/spitfirest/frontrunner/frontrun"
	"github.com/spitfirest/frontrunner/nonce"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

var (
	version = "dev" // is set during build process

	// Default values, a .env file in the working directory is loaded first
	defaultDebug                 = os.Getenv("DEBUG") == "1"
	defaultLogProd               = os.Getenv("LOG_PROD") == "1"
	defaultLogService            = os.Getenv("LOG_SERVICE")
	defaultMetricsPort           = cli.GetEnv("METRICS_PORT", "8088")
	defaultWSProvider            = cli.GetEnv("WS_PROVIDER", "ws://127.0.0.1:8546")
	defaultPrivateKey            = os.Getenv("PRIVATE_KEY")
	defaultChainID               = os.Getenv("CHAIN_ID")
	defaultNetworksConfig        = cli.GetEnv("NETWORKS_CONFIG", "networks.yaml")
	defaultMinSlippage           = cli.GetEnv("MIN_SLIPPAGE_PERCENTAGE", "0.5")
	defaultMaxFrontrunSlippage   = cli.GetEnv("MAX_FRONTRUN_SLIPPAGE_PERCENTAGE", "1")
	defaultMaxEthToSend          = cli.GetEnv("MAX_ETH_TO_SEND_PERCENTAGE", "80")
	defaultGasPremiumGwei        = cli.GetEnv("GAS_PREMIUM_GWEI", "20")
	defaultGasLimit              = cli.GetEnv("GAS_LIMIT", "500000")
	defaultCancelGasBump         = cli.GetEnv("CANCEL_GAS_BUMP_PERCENT", "10")
	defaultGasPriceToleranceGwei = cli.GetEnv("GAS_PRICE_TOLERANCE_GWEI", "0")
	defaultTxFetchRateLimit      = cli.GetEnv("TX_FETCH_RATE_LIMIT", "0")
	defaultBroadcastEndpoints    = os.Getenv("BROADCAST_ENDPOINTS")
	defaultRedisEndpoint         = os.Getenv("REDIS_ENDPOINT")
	defaultChannelName           = cli.GetEnv("REDIS_CHANNEL_NAME", "frontrun-events")
	defaultLogDir                = cli.GetEnv("LOG_DIR", "logs")

	// Flags
	debugPtr               = flag.Bool("debug", defaultDebug, "print debug output")
	logProdPtr             = flag.Bool("log-prod", defaultLogProd, "log in production mode (json)")
	logServicePtr          = flag.String("log-service", defaultLogService, "'service' tag to logs")
	metricsPortPtr         = flag.String("metrics-port", defaultMetricsPort, "port of the metrics and pprof server")
	wsPtr                  = flag.String("ws", defaultWSProvider, "websocket endpoint of the node")
	privateKeyPtr          = flag.String("private-key", defaultPrivateKey, "hex private key of the trading account")
	chainIDPtr             = flag.String("chain-id", defaultChainID, "expected chain id, taken from the node if empty")
	networksConfigPtr      = flag.String("networks-config", defaultNetworksConfig, "networks config file")
	minSlippagePtr         = flag.String("min-slippage", defaultMinSlippage, "minimum victim slippage in percent")
	maxFrontrunSlippagePtr = flag.String("max-frontrun-slippage", defaultMaxFrontrunSlippage, "slippage accepted on our own legs in percent")
	maxEthToSendPtr        = flag.String("max-eth-to-send", defaultMaxEthToSend, "percent of the optimal frontrun input to commit")
	gasPremiumPtr          = flag.String("gas-premium", defaultGasPremiumGwei, "frontrun gas price premium over the victim in gwei")
	gasLimitPtr            = flag.String("gas-limit", defaultGasLimit, "gas limit of each leg")
	cancelGasBumpPtr       = flag.String("cancel-gas-bump", defaultCancelGasBump, "gas price bump of cancellations in percent")
	gasPriceTolerancePtr   = flag.String("gas-price-tolerance", defaultGasPriceToleranceGwei, "max victim gas price deviation from the node's suggestion in gwei (0 disables)")
	txFetchRateLimitPtr    = flag.String("tx-fetch-rate-limit", defaultTxFetchRateLimit, "pending transaction lookups per second (0 is unlimited)")
	broadcastPtr           = flag.String("broadcast", defaultBroadcastEndpoints, "additional endpoints to relay our transactions to (comma separated)")
	redisPtr               = flag.String("redis", defaultRedisEndpoint, "redis url string, session events are not published if empty")
	channelPtr             = flag.String("channel", defaultChannelName, "redis pub/sub channel name string")
	logDirPtr              = flag.String("log-dir", defaultLogDir, "directory of the trade logs")
)

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	if *logProdPtr {
		atom := zap.NewAtomicLevel()
		if *debugPtr {
			atom.SetLevel(zap.DebugLevel)
		}

		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		logger = zap.New(zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.Lock(os.Stdout),
			atom,
		))
	}
	defer func() { _ = logger.Sync() }()
	if *logServicePtr != "" {
		logger = logger.With(zap.String("service", *logServicePtr))
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	defer ctxCancel()

	logger.Info("Starting frontrunner", zap.String("version", version))

	params, err := frontrun.ParamsConfig{
		MinSlippagePercent:         *minSlippagePtr,
		MaxFrontrunSlippagePercent: *maxFrontrunSlippagePtr,
		MaxEthToSendPercent:        *maxEthToSendPtr,
		GasPremiumGwei:             *gasPremiumPtr,
		GasLimit:                   parseUint(logger, "gas limit", *gasLimitPtr),
		CancelGasBumpPercent:       *cancelGasBumpPtr,
		GasPriceToleranceGwei:      *gasPriceTolerancePtr,
	}.Parse()
	if err != nil {
		logger.Fatal("Invalid trading parameters", zap.Error(err))
	}
	fetchLimit, err := strconv.ParseFloat(*txFetchRateLimitPtr, 64)
	if err != nil || fetchLimit < 0 {
		logger.Fatal("Failed to parse tx fetch rate limit", zap.String("value", *txFetchRateLimitPtr))
	}

	key, address, err := frontrun.ParsePrivateKey(*privateKeyPtr)
	if err != nil {
		logger.Fatal("Failed to parse private key", zap.Error(err))
	}

	rpcClient, err := rpc.DialContext(ctx, *wsPtr)
	if err != nil {
		logger.Fatal("Failed to connect to node", zap.Error(err))
	}
	defer rpcClient.Close()
	ethBackend := ethclient.NewClient(rpcClient)

	chainID, err := ethBackend.ChainID(ctx)
	if err != nil {
		logger.Fatal("Failed to get chain id", zap.Error(err))
	}
	if *chainIDPtr != "" && *chainIDPtr != chainID.String() {
		logger.Fatal("Node is on another chain", zap.String("expected", *chainIDPtr), zap.String("node", chainID.String()))
	}

	networks, err := frontrun.LoadNetworks(*networksConfigPtr)
	if err != nil {
		logger.Fatal("Failed to load networks config", zap.Error(err))
	}
	network, err := frontrun.ResolveNetwork(networks, chainID.Uint64())
	if err != nil {
		logger.Fatal("Failed to resolve network", zap.Error(err))
	}

	nonces, err := nonce.Seed(ctx, ethBackend, address)
	if err != nil {
		logger.Fatal("Failed to read account nonce", zap.Error(err))
	}
	account := frontrun.NewAccount(key, chainID, nonces)
	logger.Info("Trading account",
		zap.String("address", address.Hex()),
		zap.String("chainID", chainID.String()),
		zap.Int("routers", len(network.Routers)),
		zap.Int("allowedTokens", len(network.AllowedTokens)),
	)

	exchanges := make(map[common.Address]exchange.Exchange, len(network.Routers))
	var exchangeList []exchange.Exchange //nolint:prealloc
	for _, router := range network.Routers {
		var ex exchange.Exchange
		if network.FrontrunUnit != nil {
			ex = exchange.NewVault(ethBackend, *network.FrontrunUnit, router.Address, router.Fee)
		} else {
			ex = exchange.NewRouter(ethBackend, router.Address, router.Factory, address, router.Fee)
		}
		exchanges[router.Address] = ex
		exchangeList = append(exchangeList, ex)
	}

	waiter := frontrun.NewReceiptWaiter(ethBackend)
	err = frontrun.EnsureAllowances(ctx, logger, ethBackend, account, waiter, exchangeList, network.AllowedTokenAddresses())
	if err != nil {
		logger.Fatal("Failed to set token allowances", zap.Error(err))
	}

	var events frontrun.EventPublisher
	if *redisPtr != "" {
		redisOpts, err := redis.ParseURL(*redisPtr)
		if err != nil {
			logger.Fatal("Failed to parse redis url", zap.Error(err))
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		events = redisadapter.NewEventPublisher(redisClient, *channelPtr)
	}

	tradeLogs := frontrun.NewTradeLogs(*logDirPtr, logger)
	defer tradeLogs.Sync()

	engine := &frontrun.Engine{
		Logger:      logger,
		Node:        ethBackend,
		Account:     account,
		Exchanges:   exchanges,
		Network:     network,
		Params:      params,
		Waiter:      waiter,
		Broadcaster: frontrun.NewBroadcaster(logger, strings.Split(*broadcastPtr, ",")),
		Events:      events,
		TradeLogs:   tradeLogs,
	}
	registry := frontrun.NewRegistry()
	engine.Register(registry)

	dispatcher := frontrun.NewDispatcher(logger, tradeLogs.Category(frontrun.ErrorsCategory), ethBackend, registry, &frontrun.Tracker{}, frontrun.DispatcherOptions{
		Self:              address,
		Signer:            account.Signer(),
		FetchLimit:        rate.Limit(fetchLimit),
		GasPriceTolerance: params.GasPriceTolerance,
	})

	metricsMux := http.NewServeMux()
	metricsMux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	go func() {
		metricsMux.Handle("/debug/pprof/", http.HandlerFunc(pprof.Index))
		metricsMux.Handle("/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
		metricsMux.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
		metricsMux.Handle("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
		metricsMux.Handle("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))

		metricsServer := &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%s", *metricsPortPtr),
			ReadHeaderTimeout: 5 * time.Second,
			Handler:           metricsMux,
		}

		err := metricsServer.ListenAndServe()
		if err != nil {
			logger.Fatal("Failed to start metrics server", zap.Error(err))
		}
	}()

	go func() {
		notifier := make(chan os.Signal, 1)
		signal.Notify(notifier, os.Interrupt, syscall.SIGTERM)
		<-notifier
		logger.Info("Shutting down...")
		ctxCancel()
	}()

	logger.Info("Watching mempool", zap.Int("broadcastEndpoints", engine.Broadcaster.Len()))
	err = dispatcher.Run(ctx, frontrun.RPCPendingSource{Client: rpcClient})
	logger.Info("Stopped watching", zap.Error(err))

	// a running session still cancels its unconfirmed legs
	dispatcher.Wait()
	logger.Info("Stopped", zap.Uint64("noncesIssued", nonces.Issued()))
}

func parseUint(logger *zap.Logger, name, s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		logger.Fatal("Failed to parse "+name, zap.Error(err))
	}
	return v
}
