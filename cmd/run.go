package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/pitch-analyst/internal/bot"
	"github.com/spigell/pitch-analyst/internal/bot/telegram"
	"github.com/spigell/pitch-analyst/internal/interview"
	"github.com/spigell/pitch-analyst/internal/logger"
	"github.com/spigell/pitch-analyst/internal/operator"
	"github.com/spigell/pitch-analyst/internal/payment"
	"github.com/spigell/pitch-analyst/internal/secrets"
	"github.com/spigell/pitch-analyst/internal/session"
	"github.com/spigell/pitch-analyst/internal/store"
)

const drainTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the telegram bot",
	Run: func(_ *cobra.Command, _ []string) {
		run()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("listen", "l", "", "address for the operator http surface, empty disables it")

	viper.BindPFlag("operator.listen", runCmd.Flags().Lookup("listen"))
}

// run is the main command for the bot.
func run() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	defer logger.Sync()

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the pitch-analyst", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	questions, err := loadCatalog(config)
	if err != nil {
		logger.Fatal("loading questions", zap.Error(err))
	}

	repo, err := store.NewSQLite(config.Store.Path)
	if err != nil {
		logger.Fatal("opening record store", zap.Error(err), zap.String("path", config.Store.Path))
	}
	defer repo.Close()

	gate, client, err := newPaymentGate(config.Payment, repo, logger)
	if err != nil {
		logger.Fatal("configuring payment verification", zap.Error(err))
	}
	defer client.Close()

	completer, err := newCompleter(ctx, config.AI, logger)
	if err != nil {
		logger.Fatal("configuring completion backend", zap.Error(err))
	}

	orchestrator, err := interview.NewOrchestrator(completer, questions, config.AI.Temperature, config.AI.MaxLogLength, logger.Named("interview"))
	if err != nil {
		logger.Fatal("configuring interview", zap.Error(err))
	}

	evaluator, err := interview.NewEvaluator(completer, repo, config.AI.Temperature, config.AI.MaxLogLength, logger.Named("evaluation"))
	if err != nil {
		logger.Fatal("configuring evaluation", zap.Error(err))
	}

	token, err := secrets.Load(secrets.Source{
		Name: "telegram token",
		File: config.Telegram.TokenFile,
		Env:  "TELEGRAM_BOT_TOKEN",
	})
	if err != nil {
		logger.Fatal(
			"loading telegram token",
			zap.Error(err),
			zap.String("hint", "set TELEGRAM_TOKEN_FILE environment variable or the 'telegram.token-file' key in the configuration file"),
		)
	}

	gateway, err := telegram.New(token, logger.Named("telegram"))
	if err != nil {
		logger.Fatal("connecting to telegram", zap.Error(err))
	}

	machine, err := bot.NewMachine(bot.Config{
		Terms: bot.Terms{
			Treasury: config.Payment.TreasuryAddress,
			Amount:   payment.FormatUnits(config.Payment.RequiredAmount, config.Payment.TokenDecimals),
			Token:    config.Payment.TokenSymbol,
		},
		InviteLink: config.Telegram.InviteLink,
	}, session.NewRegistry(), gate, orchestrator, evaluator, gateway, logger.Named("bot"))
	if err != nil {
		logger.Fatal("configuring bot", zap.Error(err))
	}

	dispatcher := bot.NewDispatcher(ctx, machine, logger.Named("dispatcher"))

	if listen := config.Operator.Listen; listen != "" {
		srv := operator.New(machine.Sessions(), dispatcher, machine, repo, logger.Named("operator"))
		go func() {
			if err := srv.ListenAndServe(ctx, listen); err != nil {
				logger.Error("operator server failed", zap.Error(err))
			}
		}()
	}

	logger.Info("bot is running",
		zap.Int("questions", questions.Len()),
		zap.String("treasury", config.Payment.TreasuryAddress),
		zap.Uint64("required_amount", config.Payment.RequiredAmount),
	)

	if err := gateway.Run(ctx, dispatcher.Submit); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("telegram polling stopped", zap.Error(err))
	}

	logger.Info("shutting down", zap.Int("active_participants", dispatcher.Active()))

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := dispatcher.Close(drainCtx); err != nil {
		logger.Warn("dispatcher did not drain", zap.Error(err))
	}

	logger.Info("stopped")
}
