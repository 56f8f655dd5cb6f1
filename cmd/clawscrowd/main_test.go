package main

import (
	"errors"
	"log/slog"
	"math/big"
	"net"
	"testing"
	"time"

	"clawscrow/config"
	"clawscrow/core"
	"clawscrow/crypto"
	"clawscrow/storage"
)

func TestDialAddressFor(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"127.0.0.1:8645", "127.0.0.1:8645"},
		{":8645", "127.0.0.1:8645"},
		{"0.0.0.0:8645", "0.0.0.0:8645"},
		{"malformed", "malformed"},
	}
	for _, tc := range cases {
		if got := dialAddressFor(tc.input); got != tc.want {
			t.Fatalf("dialAddressFor(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestWaitForRPCStartupSucceedsOnListener(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	errCh := make(chan error, 1)
	if err := waitForRPCStartup(listener.Addr().String(), errCh, 2*time.Second); err != nil {
		t.Fatalf("expected startup confirmation, got %v", err)
	}
}

func TestWaitForRPCStartupReportsServerError(t *testing.T) {
	errCh := make(chan error, 1)
	startupErr := errors.New("bind failed")
	errCh <- startupErr
	close(errCh)

	err := waitForRPCStartup("127.0.0.1:1", errCh, time.Second)
	if !errors.Is(err, startupErr) {
		t.Fatalf("expected server error surfaced, got %v", err)
	}
}

func TestWaitForRPCStartupTimesOut(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	errCh := make(chan error, 1)
	if err := waitForRPCStartup(addr, errCh, 300*time.Millisecond); err == nil {
		t.Fatalf("expected timeout")
	}
}

func TestApplyGenesisOnce(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	node, err := core.NewNode(db)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	var seed [20]byte
	seed[19] = 0x01
	seedAddr := crypto.NewAddress(crypto.ClawPrefix, seed[:]).String()
	cfg := &config.Config{
		GenesisTokens: []config.TokenConfig{
			{Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		},
		GenesisBalances: []config.BalanceConfig{
			{Address: seedAddr, Token: "USDC", Amount: "1000000"},
		},
	}
	logger := slog.Default()

	if err := applyGenesis(node, cfg, logger); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	bal, err := node.TokenBalance(seed, "USDC")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected seeded balance, got %v", bal)
	}

	// A second pass over a bootstrapped database must be a no-op.
	if err := applyGenesis(node, cfg, logger); err != nil {
		t.Fatalf("re-apply genesis: %v", err)
	}
	bal, err = node.TokenBalance(seed, "USDC")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("restart must not re-mint, got %v", bal)
	}
}

func TestApplyGenesisRejectsBadBalances(t *testing.T) {
	var seed [20]byte
	seed[19] = 0x01
	seedAddr := crypto.NewAddress(crypto.ClawPrefix, seed[:]).String()
	cases := []config.BalanceConfig{
		{Address: "notbech32", Token: "USDC", Amount: "10"},
		{Address: "", Token: "USDC", Amount: "10"},
		{Address: seedAddr, Token: "USDC", Amount: "ten"},
		{Address: seedAddr, Token: "DAI", Amount: "10"},
	}
	for i, balanceCfg := range cases {
		db := storage.NewMemDB()
		node, err := core.NewNode(db)
		if err != nil {
			t.Fatalf("new node: %v", err)
		}
		cfg := &config.Config{
			GenesisTokens:   []config.TokenConfig{{Symbol: "USDC", Name: "USD Coin", Decimals: 6}},
			GenesisBalances: []config.BalanceConfig{balanceCfg},
		}
		if err := applyGenesis(node, cfg, slog.Default()); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
		db.Close()
	}
}
