package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clawscrow/config"
	"clawscrow/core"
	"clawscrow/crypto"
	"clawscrow/observability/logging"
	"clawscrow/rpc"
	"clawscrow/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	memdb := flag.Bool("memdb", false, "DEV ONLY: run on an in-memory database instead of LevelDB")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CLAWSCROW_ENV"))
	logger := logging.Setup("clawscrowd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	var db storage.Database
	if *memdb {
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			panic(fmt.Sprintf("Failed to open database: %v", err))
		}
		db = ldb
	}
	defer db.Close()

	node, err := core.NewNode(db,
		core.WithReviewPeriod(cfg.ReviewPeriodSeconds),
		core.WithArbitrationFeeBps(cfg.ArbitrationFeeBps),
	)
	if err != nil {
		panic(fmt.Sprintf("Failed to create node: %v", err))
	}

	if err := applyGenesis(node, cfg, logger); err != nil {
		panic(fmt.Sprintf("Failed to apply genesis allocations: %v", err))
	}

	rpcServer := rpc.NewServer(node)
	rpcErrCh := make(chan error, 1)
	go func() {
		err := rpcServer.Start(cfg.RPCAddress)
		rpcErrCh <- err
		close(rpcErrCh)
	}()

	if err := waitForRPCStartup(cfg.RPCAddress, rpcErrCh, 5*time.Second); err != nil {
		logger.Error("RPC server failed to start", slog.Any("error", err))
		os.Exit(1)
	}

	go func() {
		if err, ok := <-rpcErrCh; ok && err != nil {
			logger.Error("RPC server terminated", slog.Any("error", err))
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
			logger.Error("Metrics server terminated", slog.Any("error", err))
		}
	}()

	logger.Info("Clawscrow node initialised and running",
		slog.String("network", cfg.NetworkName),
		slog.String("rpc", cfg.RPCAddress),
		slog.String("metrics", cfg.MetricsAddress))
	select {}
}

// applyGenesis registers the configured tokens and seeds account balances on a
// fresh database. A database that already carries tokens is left untouched so
// restarts never re-mint.
func applyGenesis(node *core.Node, cfg *config.Config, logger *slog.Logger) error {
	bootstrapped, err := node.Bootstrapped()
	if err != nil {
		return err
	}
	if bootstrapped {
		logger.Info("Database already bootstrapped, skipping genesis allocations")
		return nil
	}

	for _, token := range cfg.GenesisTokens {
		if err := node.RegisterToken(token.Symbol, token.Name, token.Decimals); err != nil {
			return fmt.Errorf("register token %s: %w", token.Symbol, err)
		}
		logger.Info("Registered genesis token",
			slog.String("symbol", token.Symbol),
			slog.Int("decimals", int(token.Decimals)))
	}

	for _, balance := range cfg.GenesisBalances {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(balance.Address))
		if err != nil {
			return fmt.Errorf("genesis balance address %q: %w", balance.Address, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(balance.Amount), 10)
		if !ok {
			return fmt.Errorf("genesis balance amount %q is not a decimal", balance.Amount)
		}
		if err := node.Mint(addr.Array(), balance.Token, amount); err != nil {
			return fmt.Errorf("seed balance for %s: %w", balance.Address, err)
		}
	}
	return nil
}

func waitForRPCStartup(addr string, errCh <-chan error, timeout time.Duration) error {
	dialAddr := dialAddressFor(addr)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err, ok := <-errCh:
			if !ok {
				return fmt.Errorf("RPC server terminated before startup confirmation")
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("RPC server exited before startup confirmation")
		default:
		}

		conn, err := net.DialTimeout("tcp", dialAddr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case err, ok := <-errCh:
			if !ok {
				return fmt.Errorf("RPC server terminated before startup confirmation")
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("RPC server exited before startup confirmation")
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for RPC server to start on %s", addr)
		}
	}
}

func dialAddressFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
