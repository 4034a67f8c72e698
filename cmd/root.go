package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "pitch-analyst"
)

type Config struct {
	Telegram  *TelegramConfig `mapstructure:"telegram"`
	AI        *AIConfig       `mapstructure:"ai"`
	Payment   *PaymentConfig  `mapstructure:"payment"`
	Store     *StoreConfig    `mapstructure:"store"`
	Operator  *OperatorConfig `mapstructure:"operator"`
	Questions []any           `mapstructure:"questions"`
}

type TelegramConfig struct {
	TokenFile  string `mapstructure:"token-file"`
	InviteLink string `mapstructure:"invite-link"`
}

type AIConfig struct {
	Provider     string        `mapstructure:"provider"`
	Temperature  float32       `mapstructure:"temperature"`
	MaxLogLength int           `mapstructure:"max-log-length"`
	Gemini       *GeminiConfig `mapstructure:"gemini"`
	OpenAI       *OpenAIConfig `mapstructure:"openai"`
}

type GeminiConfig struct {
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
	MaxRetries int    `mapstructure:"max-retries"`
}

type OpenAIConfig struct {
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base-url"`
}

// PaymentConfig holds the static payment terms. RequiredAmount is in the
// token's smallest unit.
type PaymentConfig struct {
	RPCEndpoint     string `mapstructure:"rpc-endpoint"`
	TreasuryAddress string `mapstructure:"treasury-address"`
	TokenMint       string `mapstructure:"token-mint"`
	TokenSymbol     string `mapstructure:"token-symbol"`
	TokenDecimals   uint8  `mapstructure:"token-decimals"`
	RequiredAmount  uint64 `mapstructure:"required-amount"`
	Lookback        int    `mapstructure:"lookback"`
	Commitment      string `mapstructure:"commitment"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type OperatorConfig struct {
	Listen string `mapstructure:"listen"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "pitch-analyst is a telegram bot that interviews founders after an on-chain payment and evaluates their pitch",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	envs := map[string]string{
		"telegram.token-file":      "TELEGRAM_TOKEN_FILE",
		"ai.gemini.api-key-file":   "GEMINI_API_KEY_FILE",
		"ai.openai.api-key-file":   "OPENAI_API_KEY_FILE",
		"payment.rpc-endpoint":     "SOLANA_RPC_ENDPOINT",
		"payment.treasury-address": "TREASURY_ADDRESS",
	}
	for key, env := range envs {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	viper.SetDefault("ai.provider", "openai")
	viper.SetDefault("ai.temperature", 0.7)
	viper.SetDefault("ai.max-log-length", 200)
	viper.SetDefault("payment.rpc-endpoint", "https://api.mainnet-beta.solana.com")
	viper.SetDefault("payment.lookback", 100)
	viper.SetDefault("payment.commitment", "confirmed")
	viper.SetDefault("store.path", app+".db")

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is pitch-analyst.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().String("db", "", "path to the sqlite database (default is pitch-analyst.db)")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("db"))
}

func initConfig() {
	// version does not need any configuration
	if versionCmd.CalledAs() != "" {
		return
	}

	// .env is optional; it only seeds the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return config, err
	}
	if config == nil {
		return nil, errors.New("config is required")
	}

	if config.Telegram == nil {
		config.Telegram = &TelegramConfig{}
	}
	if config.AI == nil {
		config.AI = &AIConfig{}
	}
	if config.AI.Gemini == nil {
		config.AI.Gemini = &GeminiConfig{}
	}
	if config.AI.OpenAI == nil {
		config.AI.OpenAI = &OpenAIConfig{}
	}
	if config.Store == nil {
		config.Store = &StoreConfig{}
	}
	if config.Operator == nil {
		config.Operator = &OperatorConfig{}
	}

	return config, nil
}

// validatePayment checks the static payment terms.
func validatePayment(cfg *PaymentConfig) error {
	if cfg == nil {
		return errors.New("payment section is required")
	}

	var missing []string
	if strings.TrimSpace(cfg.RPCEndpoint) == "" {
		missing = append(missing, "payment.rpc-endpoint")
	}
	if strings.TrimSpace(cfg.TreasuryAddress) == "" {
		missing = append(missing, "payment.treasury-address")
	}
	if strings.TrimSpace(cfg.TokenMint) == "" {
		missing = append(missing, "payment.token-mint")
	}
	if cfg.RequiredAmount == 0 {
		missing = append(missing, "payment.required-amount")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing payment settings: %s", strings.Join(missing, ", "))
	}

	return nil
}
