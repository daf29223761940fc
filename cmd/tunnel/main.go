// Command tunnel runs a reverse-tunnel client: it maintains a pool of
// authenticated connections to a remote rendezvous server and bridges
// inbound traffic to a local TCP or TLS service.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hostit-tunnel/internal/configio"
	"hostit-tunnel/internal/identity"
	"hostit-tunnel/internal/retry"
	"hostit-tunnel/internal/tunlog"
	"hostit-tunnel/internal/tunmetrics"
	"hostit-tunnel/internal/tunnel"
	"hostit-tunnel/internal/version"
)

// fileConfig is the on-disk shape persisted by -config, a JSON rendering of
// the fields of tunnel.Config that are safe to serialize (PrivateKey as hex,
// AutoReconnectInterval as milliseconds).
type fileConfig struct {
	LocalAddress          string `json:"localAddress"`
	LocalPort             int    `json:"localPort"`
	RemoteAddress         string `json:"remoteAddress"`
	RemotePort            int    `json:"remotePort"`
	MaxConnections        int    `json:"maxConnections"`
	PrivateKeyHex         string `json:"privateKey"`
	SecureLocalConnection bool   `json:"secureLocalConnection"`
	AutoReconnect         bool   `json:"autoReconnect"`
	AutoReconnectInterval int64  `json:"autoReconnectIntervalMs"`
}

func main() {
	var (
		localAddress  = flag.String("local-address", "localhost", "local service hostname/IP")
		localPort     = flag.Int("local-port", 0, "local service port (required)")
		remoteAddress = flag.String("remote-address", "", "remote rendezvous server hostname (required)")
		remotePort    = flag.Int("remote-port", 4443, "remote rendezvous server port")
		maxConns      = flag.Int("max-connections", 24, "steady-state pool size")
		secureLocal   = flag.Bool("secure-local", false, "dial the local service over TLS")
		autoReconnect = flag.Bool("auto-reconnect", true, "schedule a reopen after connection errors empty the pool (the heartbeat runs either way)")
		interval      = flag.Duration("reconnect-interval", 30*time.Second, "heartbeat and error-driven reconnect interval")
		privateKeyHex = flag.String("private-key", "", "32-byte private key, hex-encoded (random if empty and no -config key)")
		configPath    = flag.String("config", "", "path to a JSON config file to load/persist across restarts")
		metricsAddr   = flag.String("metrics", "", "address to serve Prometheus/JSON metrics on (empty to disable)")
		waitForLocal  = flag.Bool("wait-for-local", false, "poll the local address with backoff before the first open()")
		logLevel      = flag.String("log-level", "info", "trace|debug|info|warn|error|fatal")
		logJSON       = flag.Bool("log-json", false, "emit log entries as JSON lines")
		showVersion   = flag.Bool("version", false, "print the client version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Current)
		return
	}

	logger := tunlog.New(tunlog.Config{Level: tunlog.ParseLevel(*logLevel), JSONFormat: *logJSON})
	logger.SetLevelFromEnv()

	var fc fileConfig
	if *configPath != "" {
		if _, err := configio.Load(*configPath, &fc); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	if *localAddress != "localhost" {
		fc.LocalAddress = *localAddress
	} else if fc.LocalAddress == "" {
		fc.LocalAddress = *localAddress
	}
	if *localPort != 0 {
		fc.LocalPort = *localPort
	}
	if *remoteAddress != "" {
		fc.RemoteAddress = *remoteAddress
	}
	if *remotePort != 0 && fc.RemotePort == 0 {
		fc.RemotePort = *remotePort
	}
	if fc.MaxConnections == 0 {
		fc.MaxConnections = *maxConns
	}
	if *secureLocal {
		fc.SecureLocalConnection = true
	}
	fc.AutoReconnect = *autoReconnect
	if fc.AutoReconnectInterval == 0 {
		fc.AutoReconnectInterval = interval.Milliseconds()
	}

	var privateKey []byte
	switch {
	case *privateKeyHex != "":
		key, err := hex.DecodeString(*privateKeyHex)
		if err != nil {
			log.Fatalf("parse -private-key: %v", err)
		}
		privateKey = key
	case fc.PrivateKeyHex != "":
		key, err := hex.DecodeString(fc.PrivateKeyHex)
		if err != nil {
			log.Fatalf("parse config privateKey: %v", err)
		}
		privateKey = key
	default:
		key, err := identity.GenerateKey()
		if err != nil {
			log.Fatalf("generate private key: %v", err)
		}
		privateKey = key
	}
	fc.PrivateKeyHex = hex.EncodeToString(privateKey)

	if *configPath != "" {
		if err := configio.Save(*configPath, &fc); err != nil {
			log.Fatalf("save config: %v", err)
		}
	}

	if strings.TrimSpace(fc.RemoteAddress) == "" {
		log.Fatalf("-remote-address is required")
	}
	if fc.LocalPort == 0 {
		log.Fatalf("-local-port is required")
	}

	cfg := tunnel.Config{
		LocalAddress:          fc.LocalAddress,
		LocalPort:             fc.LocalPort,
		RemoteAddress:         fc.RemoteAddress,
		RemotePort:            fc.RemotePort,
		MaxConnections:        fc.MaxConnections,
		PrivateKey:            privateKey,
		SecureLocalConnection: fc.SecureLocalConnection,
		DisableAutoReconnect:  !fc.AutoReconnect,
		AutoReconnectInterval: time.Duration(fc.AutoReconnectInterval) * time.Millisecond,
		Logger:                logger,
	}

	metrics := tunmetrics.NewCollector()
	tunmetrics.RegisterDefault(metrics)

	events := &tunnel.Events{
		OnOpen: func(conn *tunnel.RemoteConnection) {
			logger.Info(tunlog.CatPool, "pool connection authenticated")
		},
		OnConnected: func(conn *tunnel.RemoteConnection) {
			logger.Info(tunlog.CatBridge, "bridge connected")
		},
		OnDisconnected: func(err error) {
			logger.Warn(tunlog.CatPool, "disconnected: "+err.Error())
		},
		OnClose: func() {
			logger.Info(tunlog.CatSupervis, "pool closed")
		},
	}

	sup, err := tunnel.NewSupervisor(cfg, events, metrics)
	if err != nil {
		log.Fatalf("construct supervisor: %v", err)
	}

	fmt.Printf("tunnel id:  %s\n", sup.Identity().ID)
	fmt.Printf("tunnel url: %s\n", sup.Identity().URL(fc.RemoteAddress))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *waitForLocal {
		logger.Info(tunlog.CatSystem, "waiting for local service to become reachable")
		if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
			return dialProbe(cfg.LocalAddr())
		}); err != nil {
			log.Fatalf("local service never became reachable: %v", err)
		}
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", metrics.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error(tunlog.CatSystem, "metrics server exited", err)
			}
		}()
		defer srv.Close()
	}

	if err := sup.Open(ctx, 0); err != nil {
		logger.Error(tunlog.CatSupervis, "initial open failed", err)
	} else if info, err := sup.QueryProxyInfo(ctx, nil); err != nil {
		logger.Debug(tunlog.CatSupervis, "proxy info query failed: "+err.Error())
	} else if alias, ok := info["alias"].(string); ok && alias != "" {
		fmt.Printf("alias url:  %s\n", sup.Identity().AliasURL(fc.RemoteAddress, alias))
	}

	<-ctx.Done()
	logger.Info(tunlog.CatSystem, "shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Error(tunlog.CatSystem, "shutdown error", err)
	}
}

func dialProbe(addr string) error {
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
