package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"apikey-gateway/middleware/keyrotation/application"
	"apikey-gateway/middleware/keyrotation/domain"
	"apikey-gateway/middleware/keyrotation/infra"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type seedConfig struct {
	redisAddr     string
	redisPassword string
	redisDB       int
	vaultKey      string
	passphrase    string
	combined      bool
	timeout       time.Duration
	keyPrefix     string
	debug         bool
}

func newRootCommand(out io.Writer) *cobra.Command {
	cfg := &seedConfig{}

	rootCmd := &cobra.Command{
		Use:           "keyseed",
		Short:         "Grava e confere as API keys cifradas do gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "Endereço do Redis (REDIS_ADDR)")
	flags.StringVar(&cfg.redisPassword, "redis-password", os.Getenv("REDIS_PASSWORD"), "Senha do Redis (REDIS_PASSWORD)")
	flags.IntVar(&cfg.redisDB, "redis-db", envIntOr("REDIS_DB", 0), "Banco do Redis (REDIS_DB)")
	flags.StringVar(&cfg.vaultKey, "vault-key", envOr("VAULT_KEY", application.DefaultVaultKey), "Chave do cofre no Redis (VAULT_KEY)")
	flags.StringVar(&cfg.passphrase, "passphrase", os.Getenv("VAULT_PASSPHRASE"), "Passphrase do cofre (VAULT_PASSPHRASE)")
	flags.BoolVar(&cfg.combined, "combined", os.Getenv("VAULT_COMBINED") == "true", "Um único envelope para a lista inteira")
	flags.StringVar(&cfg.keyPrefix, "key-prefix", envOr("KEY_PREFIX", "keyrotation"), "Prefixo das chaves no Redis (KEY_PREFIX)")
	flags.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "Timeout das operações no Redis")
	flags.BoolVar(&cfg.debug, "debug", false, "Log em nível debug")

	rootCmd.AddCommand(
		newStoreCommand(cfg, out),
		newVerifyCommand(cfg, out),
		newStatsCommand(cfg, out),
	)
	return rootCmd
}

func newStoreCommand(cfg *seedConfig, out io.Writer) *cobra.Command {
	var keys string

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Cifra uma lista de API keys e grava no cofre",
		Long: `Cifra cada API key separadamente e grava o array no cofre,
substituindo o conteúdo anterior.

Exemplos:
  keyseed store --keys "sk-aaa,sk-bbb"
  API_KEYS="sk-aaa,sk-bbb" keyseed store`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keys == "" {
				keys = os.Getenv("API_KEYS")
			}
			if len(domain.ParseCredentials(keys)) == 0 {
				return errors.New("nenhuma API key informada (use --keys ou API_KEYS)")
			}

			vault, closeFn, err := openVault(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
			defer cancel()
			if !vault.StoreEncryptedKey(ctx, keys) {
				return errors.New("falha ao gravar as API keys")
			}
			fmt.Fprintf(out, "%d API key(s) gravada(s) em %q\n", len(domain.ParseCredentials(keys)), cfg.vaultKey)
			return nil
		},
	}

	cmd.Flags().StringVar(&keys, "keys", "", "Lista de API keys separada por vírgulas")
	return cmd
}

func newVerifyCommand(cfg *seedConfig, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Decifra o cofre e lista as API keys mascaradas",
		RunE: func(cmd *cobra.Command, args []string) error {
			vault, closeFn, err := openVault(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
			defer cancel()
			raw, err := vault.Load(ctx)
			if err != nil {
				return err
			}
			for i, c := range domain.ParseCredentials(raw) {
				fmt.Fprintf(out, "%d\t%s\n", i, c.Masked())
			}
			return nil
		},
	}
}

func newStatsCommand(cfg *seedConfig, out io.Writer) *cobra.Command {
	var credential string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Mostra os contadores de admissão gravados pelo gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			rdb, err := openRedis(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = rdb.Close() }()

			stats := infra.NewRedisStatsStore(rdb, infra.WithStatsPrefix(strings.Trim(cfg.keyPrefix, ":")+":stats"))
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
			defer cancel()

			total, err := stats.Totals(ctx)
			if err != nil {
				return err
			}
			minute, err := stats.Minute(ctx, time.Now())
			if err != nil {
				return err
			}

			printCounters(out, "total", total)
			printCounters(out, "minuto atual", minute)
			if credential != "" {
				masked := domain.Credential(credential).Masked()
				c, err := stats.Credential(ctx, masked)
				if err != nil {
					return err
				}
				printCounters(out, masked, c)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&credential, "credential", "", "Mostra também os contadores desta credencial (requer STATS_TRACK_KEYS no gateway)")
	return cmd
}

func printCounters(out io.Writer, label string, c infra.Counters) {
	fmt.Fprintf(out, "%s\tadmitted=%d exhausted=%d store_error=%d\n", label, c.Admitted, c.Exhausted, c.StoreError)
}

func openRedis(cfg *seedConfig) (*redis.Client, error) {
	if strings.TrimSpace(cfg.redisAddr) == "" {
		return nil, errors.New("--redis-addr (ou REDIS_ADDR) é obrigatório")
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.redisAddr,
		Password: cfg.redisPassword,
		DB:       cfg.redisDB,
	}), nil
}

func openVault(cfg *seedConfig) (*application.Vault, func(), error) {
	if cfg.passphrase == "" {
		return nil, nil, errors.New("--passphrase (ou VAULT_PASSPHRASE) é obrigatório")
	}
	sealer, err := infra.NewPassphraseSealer(cfg.passphrase)
	if err != nil {
		return nil, nil, err
	}
	rdb, err := openRedis(cfg)
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelWarn
	if cfg.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	vault := application.NewVault(application.VaultConfig{
		Store:    infra.NewRedisBlobStore(rdb),
		Sealer:   sealer,
		Logger:   logger,
		Key:      cfg.vaultKey,
		Combined: cfg.combined,
	})
	return vault, func() { _ = rdb.Close() }, nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envIntOr(k string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return v
	}
	return def
}
