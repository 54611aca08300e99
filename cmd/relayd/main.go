// Command relayd runs the off-chain coordination layer: the single-signer
// relayer, the chain indexer/reconciler, the jackpot engine, the stuck-bet
// recovery sweep, and the read-only ops RPC console.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cosmos/cosmos-sdk/client"
	"github.com/cosmos/cosmos-sdk/codec"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	cryptocodec "github.com/cosmos/cosmos-sdk/crypto/codec"
	authtx "github.com/cosmos/cosmos-sdk/x/auth/tx"
	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"
	authztypes "github.com/cosmos/cosmos-sdk/x/authz"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"
	"github.com/urfave/cli/v2"

	wasmtypes "github.com/CosmWasm/wasmd/x/wasm/types"

	"github.com/tolchain/relay/background"
	"github.com/tolchain/relay/betmachine"
	"github.com/tolchain/relay/chainclient"
	"github.com/tolchain/relay/config"
	"github.com/tolchain/relay/events"
	"github.com/tolchain/relay/indexer"
	"github.com/tolchain/relay/internal/opsrpc"
	"github.com/tolchain/relay/jackpot"
	"github.com/tolchain/relay/notify"
	"github.com/tolchain/relay/relayer"
	"github.com/tolchain/relay/storage"
	"github.com/tolchain/relay/vault"
	"github.com/tolchain/relay/wallet"
)

func main() {
	app := &cli.App{
		Name:  "relayd",
		Usage: "off-chain coordination layer for the coin-flip contract",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "relayd.toml", Usage: "path to config file"},
			&cli.StringFlag{Name: "keystore", Value: "relayer.key", Usage: "path to the relayer signing keystore"},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the relayer, indexer, jackpot engine, and ops RPC",
				Action: func(c *cli.Context) error {
					return cmdRun(c.String("config"), c.String("keystore"))
				},
			},
			{
				Name:  "keygen",
				Usage: "generate a new relayer signing key and encrypt it to the keystore path",
				Action: func(c *cli.Context) error {
					return cmdKeygen(c.String("keystore"))
				},
			},
			{
				Name:  "reconcile",
				Usage: "run a one-shot startup reconciliation sweep and exit",
				Action: func(c *cli.Context) error {
					return cmdReconcile(c.String("config"), c.String("keystore"))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func cmdKeygen(keystorePath string) error {
	password := os.Getenv("RELAYER_PASSWORD")
	if password == "" {
		return fmt.Errorf("RELAYER_PASSWORD must be set before generating a keystore")
	}
	id, err := wallet.Generate()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := wallet.SaveKey(keystorePath, password, id.Priv); err != nil {
		return fmt.Errorf("save key: %w", err)
	}
	fmt.Printf("Generated relayer key. Address: %s\n", id.Address())
	fmt.Printf("Saved to: %s\n", keystorePath)
	return nil
}

func cmdReconcile(cfgPath, keystorePath string) error {
	deps, err := wire(cfgPath, keystorePath)
	if err != nil {
		return err
	}
	defer deps.db.Close()

	ctx := context.Background()
	if err := deps.reconciler.Run(ctx, deps.mirror); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	log.Println("[relayd] reconciliation sweep complete")
	return nil
}

func cmdRun(cfgPath, keystorePath string) error {
	deps, err := wire(cfgPath, keystorePath)
	if err != nil {
		return err
	}
	defer deps.db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := deps.reconciler.Run(ctx, deps.mirror); err != nil {
		log.Printf("[relayd] startup reconciliation: %v", err)
	}

	go deps.poller.Run(ctx)
	go deps.sweeper.Run(ctx)
	go deps.jackpot.Run(ctx)

	if err := deps.opsServer.Start(); err != nil {
		return fmt.Errorf("ops rpc start: %w", err)
	}
	defer deps.opsServer.Stop()
	log.Printf("[relayd] ops rpc listening on %s", deps.cfg.OpsRPCListenAddr)
	log.Printf("[relayd] relayer address: %s", deps.relay.Address())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[relayd] shutting down...")
	return nil
}

// deps holds every wired component run and reconcile share.
type deps struct {
	cfg        *config.Config
	db         *storage.LevelDB
	mirror     *storage.MirrorStore
	relay      *relayer.Relayer
	poller     *indexer.Poller
	reconciler *indexer.Reconciler
	sweeper    *background.Sweeper
	jackpot    *jackpot.Engine
	opsServer  *opsrpc.Server
}

func wire(cfgPath, keystorePath string) (*deps, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	priv, err := wallet.LoadKey(keystorePath, cfg.RelayerPassword)
	if err != nil {
		return nil, fmt.Errorf("load relayer key: %w", err)
	}
	identity := wallet.NewIdentity(priv)

	db, err := storage.NewLevelDB(cfg.MirrorDBPath)
	if err != nil {
		return nil, fmt.Errorf("open mirror db: %w", err)
	}
	mirror := storage.NewMirrorStore(db)

	emitter := events.NewEmitter()
	bus := notify.NewEventBus(emitter)

	machine := betmachine.New(mirror)
	v := vault.New(mirror, machine)

	chain := chainclient.New(cfg.ChainRESTURL, cfg.ContractAddr)
	txConfig := buildTxConfig()

	relay := relayer.New(chain, txConfig, priv, identity.Address(), cfg.ContractAddr, cfg.ChainID)

	projector := indexer.NewProjector(machine, v, bus, mirror)
	poller := indexer.NewPoller(chain, mirror, mirror, projector, cfg.ContractAddr)

	policy := indexer.OrphanPolicy(cfg.OrphanPolicy)
	reconciler := indexer.NewReconciler(chain, machine, v, bus, cfg.ContractAddr, policy)

	sweeper := background.NewSweeper(mirror, reconciler)

	tiers, err := cfg.Tiers()
	if err != nil {
		return nil, fmt.Errorf("jackpot tiers: %w", err)
	}
	engine := jackpot.New(mirror, bus, emitter, nil, tiers)
	if err := engine.EnsurePoolsExist(); err != nil {
		return nil, fmt.Errorf("jackpot pools: %w", err)
	}
	if err := engine.BackfillAll(); err != nil {
		return nil, fmt.Errorf("jackpot backfill: %w", err)
	}
	engine.RetryStuckDraws()

	handler := opsrpc.NewHandler(machine, v, mirror, relay)
	opsServer := opsrpc.NewServer(cfg.OpsRPCListenAddr, handler, os.Getenv("OPS_RPC_AUTH_TOKEN"))

	return &deps{
		cfg:        cfg,
		db:         db,
		mirror:     mirror,
		relay:      relay,
		poller:     poller,
		reconciler: reconciler,
		sweeper:    sweeper,
		jackpot:    engine,
		opsServer:  opsServer,
	}, nil
}

// buildTxConfig assembles the minimal interface registry this relayer needs
// to sign and encode MsgExecuteContract wrapped in an x/authz MsgExec: just
// enough module types for those two messages, not a full app codec.
func buildTxConfig() client.TxConfig {
	interfaceRegistry := codectypes.NewInterfaceRegistry()
	cryptocodec.RegisterInterfaces(interfaceRegistry)
	authtypes.RegisterInterfaces(interfaceRegistry)
	banktypes.RegisterInterfaces(interfaceRegistry)
	authztypes.RegisterInterfaces(interfaceRegistry)
	wasmtypes.RegisterInterfaces(interfaceRegistry)
	marshaler := codec.NewProtoCodec(interfaceRegistry)
	return authtx.NewTxConfig(marshaler, authtx.DefaultSignModes)
}
