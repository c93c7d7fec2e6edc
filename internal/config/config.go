package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// Config is the full typed process configuration, resolved once in main and
// threaded through the AppContext. All credentials come from the environment;
// there are no fallback defaults for security-sensitive values.
type Config struct {
	DatabaseURL string

	// Chain endpoints, primary first. The primary chain hosts the staking
	// contract, DEX factory and deposit token.
	Chains []models.ChainEndpoint

	// Core contract addresses on the primary chain (lowercase hex).
	StakingContract string
	FactoryContract string
	AnchorToken     string // stablecoin anchor for the price graph, price = 1.0
	RewardToken     string
	DepositToken    string
	DepositAddress  string // treasury address incoming deposits must target

	// Game contract addresses. Each is optional; the matching indexer only
	// starts when its address is configured.
	BridgeContract string
	HuntContract   string
	PVPContract    string
	TavernContract string
	HeroContract   string

	// Block the primary-chain indexers backfill from on first start.
	GenesisBlock uint64

	// Offset of the daily rollup boundary from UTC midnight, in minutes.
	AggregateCutoffMinutes int64

	// HTTP surface.
	Port           string
	AllowedOrigins string
	SessionSecret  string
	OAuthEnabled   bool
	AdminDiscordIDs map[string]bool

	// External surfaces (consumed by the bot layer, validated here).
	DiscordToken        string
	DiscordClientID     string
	DiscordClientSecret string
	DiscordGuildID      string
	RedirectURI         string
	OpenAIAPIKey        string
	OpenAIModel         string
	HedgePromptPath     string
}

// Load reads .env (if present), then resolves and validates the environment.
// Missing required secrets are fatal: the process must not start half-configured.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading configuration from process environment")
	}

	cfg := &Config{
		DatabaseURL: requireEnv("DATABASE_URL"),

		StakingContract: strings.ToLower(requireEnv("STAKING_CONTRACT")),
		FactoryContract: strings.ToLower(requireEnv("FACTORY_CONTRACT")),
		AnchorToken:     strings.ToLower(requireEnv("ANCHOR_TOKEN")),
		RewardToken:     strings.ToLower(requireEnv("REWARD_TOKEN")),
		DepositToken:    strings.ToLower(requireEnv("DEPOSIT_TOKEN")),
		DepositAddress:  strings.ToLower(requireEnv("DEPOSIT_ADDRESS")),

		BridgeContract: strings.ToLower(os.Getenv("BRIDGE_CONTRACT")),
		HuntContract:   strings.ToLower(os.Getenv("HUNT_CONTRACT")),
		PVPContract:    strings.ToLower(os.Getenv("PVP_CONTRACT")),
		TavernContract: strings.ToLower(os.Getenv("TAVERN_CONTRACT")),
		HeroContract:   strings.ToLower(os.Getenv("HERO_CONTRACT")),
		GenesisBlock:   uint64(envInt64("GENESIS_BLOCK", 0)),

		AggregateCutoffMinutes: envInt64("AGGREGATE_CUTOFF_MINUTES", 0),

		Port:           getEnvOrDefault("PORT", "5340"),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),

		DiscordToken:        os.Getenv("DISCORD_TOKEN"),
		DiscordClientID:     os.Getenv("DISCORD_CLIENT_ID"),
		DiscordClientSecret: os.Getenv("DISCORD_CLIENT_SECRET"),
		DiscordGuildID:      os.Getenv("DISCORD_GUILD_ID"),
		RedirectURI:         os.Getenv("REDIRECT_URI"),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:         getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		HedgePromptPath:     os.Getenv("HEDGE_PROMPT_PATH"),
	}

	// OAuth is enabled when the Discord client pair is present; the session
	// secret then becomes mandatory.
	cfg.OAuthEnabled = cfg.DiscordClientID != "" && cfg.DiscordClientSecret != ""
	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.OAuthEnabled && cfg.SessionSecret == "" {
		log.Fatalf("FATAL: SESSION_SECRET is required when Discord OAuth is configured")
	}

	cfg.AdminDiscordIDs = make(map[string]bool)
	for _, id := range strings.Split(os.Getenv("ADMIN_DISCORD_IDS"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.AdminDiscordIDs[id] = true
		}
	}

	cfg.Chains = loadChains()
	if len(cfg.Chains) == 0 {
		log.Fatalf("FATAL: at least one chain endpoint is required (set CHAIN_RPC_URL)")
	}

	return cfg
}

// loadChains reads CHAIN_RPC_URL (primary) plus optional CHAIN2_RPC_URL,
// CHAIN3_RPC_URL... secondary endpoints for the cross-chain indexers.
func loadChains() []models.ChainEndpoint {
	var chains []models.ChainEndpoint
	for i := 1; ; i++ {
		prefix := "CHAIN"
		if i > 1 {
			prefix = fmt.Sprintf("CHAIN%d", i)
		}
		url := os.Getenv(prefix + "_RPC_URL")
		if url == "" {
			break
		}
		chains = append(chains, models.ChainEndpoint{
			ChainID:       envInt64(prefix+"_ID", 53935),
			Name:          getEnvOrDefault(prefix+"_NAME", fmt.Sprintf("chain-%d", i)),
			RPCURL:        url,
			ChunkSize:     uint64(envInt64(prefix+"_CHUNK_SIZE", 2048)),
			Confirmations: uint64(envInt64(prefix+"_CONFIRMATIONS", 10)),
		})
	}
	return chains
}

// requireEnv reads a required environment variable and exits if it is not set.
// This prevents the binary from starting with missing critical configuration.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values: cp .env.example .env", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
		log.Printf("Warning: %s is not an integer, using default %d", key, fallback)
	}
	return fallback
}
