package cmd

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/pitch-analyst/internal/ai"
	"github.com/spigell/pitch-analyst/internal/ai/gemini"
	"github.com/spigell/pitch-analyst/internal/ai/openai"
	"github.com/spigell/pitch-analyst/internal/catalog"
	"github.com/spigell/pitch-analyst/internal/chain"
	"github.com/spigell/pitch-analyst/internal/chain/solana"
	"github.com/spigell/pitch-analyst/internal/logger"
	"github.com/spigell/pitch-analyst/internal/payment"
	"github.com/spigell/pitch-analyst/internal/secrets"
)

// loadCatalog returns the configured questions or the built-in catalog.
func loadCatalog(config *Config) (*catalog.Catalog, error) {
	if len(config.Questions) == 0 {
		return catalog.Default(), nil
	}
	return catalog.FromConfig(config.Questions)
}

// newPaymentGate wires the Solana adapter, the scanner and the gate. The
// returned client must be closed by the caller.
func newPaymentGate(cfg *PaymentConfig, recorder payment.Recorder, log *zap.Logger) (*payment.Gate, *solana.Client, error) {
	if err := validatePayment(cfg); err != nil {
		return nil, nil, err
	}

	client, err := solana.New(cfg.RPCEndpoint, cfg.Commitment, log.Named("solana"))
	if err != nil {
		return nil, nil, err
	}

	scanner := chain.NewScanner(client, cfg.Lookback, log.Named("scanner"))

	gate, err := payment.NewGate(payment.Config{
		Treasury:       cfg.TreasuryAddress,
		RequiredAmount: cfg.RequiredAmount,
	}, scanner, solana.Deriver{Mint: cfg.TokenMint}, recorder, log.Named("payment"))
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	return gate, client, nil
}

func newCompleter(ctx context.Context, cfg *AIConfig, log *zap.Logger) (ai.Completer, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))

	var (
		completer ai.Completer
		err       error
	)

	switch provider {
	case "gemini":
		var apiKey string
		apiKey, err = secrets.Load(secrets.Source{
			Name: "gemini api key",
			File: cfg.Gemini.APIKeyFile,
			Env:  "GEMINI_API_KEY",
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
		}

		genLogger := logger.WithCompletion(log, provider, cfg.Gemini.Model).With(
			zap.Int("ai_retry_attempts", cfg.Gemini.MaxRetries),
		)
		completer, err = gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model, cfg.Gemini.MaxRetries, genLogger)
	case "openai", "":
		var apiKey string
		apiKey, err = secrets.Load(secrets.Source{
			Name: "openai api key",
			File: cfg.OpenAI.APIKeyFile,
			Env:  "OPENAI_API_KEY",
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.openai.api-key-file or OPENAI_API_KEY_FILE)", err)
		}

		completer, err = openai.New(apiKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if d, ok := completer.(ai.Describer); ok {
		logger.WithCompletion(log, d.Provider(), d.Model()).Info("completion backend ready")
	}

	return completer, nil
}
