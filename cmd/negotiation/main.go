package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/digikhet/negotiation/internal/config"
	"github.com/digikhet/negotiation/internal/crossctx"
	"github.com/digikhet/negotiation/internal/database"
	"github.com/digikhet/negotiation/internal/logging"
	"github.com/digikhet/negotiation/internal/negotiation"
	"github.com/digikhet/negotiation/internal/notify"
	"github.com/digikhet/negotiation/internal/relay"
	devsync "github.com/digikhet/negotiation/internal/sync"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// publishSettle gives the fire-and-forget relay publish a moment to leave
// the process before a one-shot command exits.
const publishSettle = 300 * time.Millisecond

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "negotiation",
		Short: "Device-side negotiation client",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newCreateCommand(),
		newCounterCommand(),
		newAcceptCommand(),
		newDeclineCommand(),
		newListCommand(),
		newWatchCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("relay-url", defaults.GetString("relay.url"), "Relay daemon base URL")
	cmd.PersistentFlags().String("relay-room", defaults.GetString("relay.room"), "Relay room name")
	cmd.PersistentFlags().String("store-path", defaults.GetString("store.path"), "SQLite store path for this device")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "relay.url", "relay-url")
	bindFlag(cmd, "relay.room", "relay-room")
	bindFlag(cmd, "store.path", "store-path")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// app is the composition root for one device: it owns the single relay
// client instance and injects it into the synchronization client.
type app struct {
	cfg    config.AppConfig
	logger *zap.Logger
	store  *negotiation.Store
	relay  *relay.Client
	client *devsync.Client
}

func newApp() (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(cfg.StorePath, logger)
	if err != nil {
		return nil, err
	}

	store, err := negotiation.OpenStore(negotiation.StoreConfig{
		Database:   db,
		SignalPath: cfg.StorePath + ".signal",
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	machine, err := negotiation.NewMachine(negotiation.MachineConfig{
		Store:  store,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	relayClient := relay.NewClient(relay.ClientConfig{
		BaseURL: cfg.RelayURL,
		Room:    cfg.RelayRoom,
		Logger:  logger,
	})

	client, err := devsync.NewClient(devsync.ClientConfig{
		Store:     store,
		Machine:   machine,
		Notifier:  notify.NewNotifier(),
		Transport: relayClient,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, store: store, relay: relayClient, client: client}, nil
}

func (a *app) close() {
	a.client.Close()
	a.relay.Close()
	a.logger.Sync() //nolint:errcheck
}

func newCreateCommand() *cobra.Command {
	var input negotiation.OfferInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a pending offer as the buyer",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			record, report := application.client.CreateOffer(input)
			reportWarnings(application.logger, report)
			time.Sleep(publishSettle)
			return printJSON(record)
		},
	}
	cmd.Flags().StringVar(&input.ProductID, "product-id", "", "Product identifier")
	cmd.Flags().StringVar(&input.ProductName, "product-name", "", "Product display name")
	cmd.Flags().StringVar(&input.SellerID, "seller-id", "", "Seller identifier")
	cmd.Flags().StringVar(&input.SellerName, "seller-name", "", "Seller display name")
	cmd.Flags().StringVar(&input.BuyerID, "buyer-id", "", "Buyer identifier")
	cmd.Flags().StringVar(&input.BuyerName, "buyer-name", "", "Buyer display name")
	cmd.Flags().Float64Var(&input.QuantityKg, "quantity-kg", 0, "Offered quantity in kilograms")
	cmd.Flags().Float64Var(&input.OfferPricePerKg, "price", 0, "Offered price per kilogram")
	return cmd
}

func newCounterCommand() *cobra.Command {
	var by string
	var price, quantity float64
	cmd := &cobra.Command{
		Use:   "counter <negotiation-id>",
		Short: "Counter a pending offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			party, err := negotiation.ParseParty(by)
			if err != nil {
				return err
			}
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			record, report := application.client.CounterOffer(args[0], negotiation.CounterInput{
				By:         party,
				Price:      price,
				QuantityKg: quantity,
			})
			if record == nil {
				fmt.Println("negotiation missing or no longer pending; nothing to counter")
				return nil
			}
			reportWarnings(application.logger, report)
			time.Sleep(publishSettle)
			return printJSON(*record)
		},
	}
	cmd.Flags().StringVar(&by, "by", string(negotiation.PartySeller), "Countering party (buyer or seller)")
	cmd.Flags().Float64Var(&price, "price", 0, "Countered price per kilogram")
	cmd.Flags().Float64Var(&quantity, "quantity-kg", 0, "Countered quantity (0 keeps current)")
	return cmd
}

func newAcceptCommand() *cobra.Command {
	return newFinalizeCommand("accept", "Accept an offer", func(a *app, id string) (*negotiation.Record, devsync.WriteReport) {
		return a.client.AcceptOffer(id)
	})
}

func newDeclineCommand() *cobra.Command {
	return newFinalizeCommand("decline", "Decline an offer", func(a *app, id string) (*negotiation.Record, devsync.WriteReport) {
		return a.client.DeclineOffer(id)
	})
}

func newFinalizeCommand(use, short string, run func(*app, string) (*negotiation.Record, devsync.WriteReport)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <negotiation-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			record, report := run(application, args[0])
			if record == nil {
				fmt.Println("negotiation not found")
				return nil
			}
			reportWarnings(application.logger, report)
			time.Sleep(publishSettle)
			return printJSON(*record)
		},
	}
}

func newListCommand() *cobra.Command {
	var filter negotiation.Filter
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List this device's negotiations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			filter.Status = negotiation.Status(status)
			return printJSON(application.client.ListNegotiations(filter))
		},
	}
	cmd.Flags().StringVar(&filter.ProductID, "product-id", "", "Filter by product")
	cmd.Flags().StringVar(&filter.SellerID, "seller-id", "", "Filter by seller")
	cmd.Flags().StringVar(&filter.BuyerID, "buyer-id", "", "Filter by buyer")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, accepted, declined)")
	return cmd
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the negotiation table after every observed change",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			listener, err := crossctx.NewListener(
				application.store.SignalPath(),
				application.client.HandleCrossContextChange,
				application.logger,
			)
			if err != nil {
				return err
			}
			if err := listener.Start(); err != nil {
				return err
			}
			defer listener.Stop()

			printTable := func() {
				if err := printJSON(application.client.ListNegotiations(negotiation.Filter{})); err != nil {
					application.logger.Warn("print failed", zap.Error(err))
				}
			}
			unsubscribe := application.client.SubscribeNegotiations(printTable)
			defer unsubscribe()

			printTable()

			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-signalCtx.Done()
			return nil
		},
	}
}

func reportWarnings(logger *zap.Logger, report devsync.WriteReport) {
	if report.PersistErr != nil {
		logger.Warn("write kept in memory only", zap.Error(report.PersistErr))
	}
	if report.PublishErr != nil {
		logger.Warn("relay publish dropped; peers converge on a later message", zap.Error(report.PublishErr))
	}
}

func printJSON(value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
