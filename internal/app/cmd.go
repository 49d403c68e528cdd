package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hitoshi/colonygate/internal/config"
	"github.com/hitoshi/colonygate/internal/storage"
)

// rootOptions はコマンド間で共有する依存。
type rootOptions struct {
	logOutput io.Writer
	openAdmin func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*adminEnv, error)
}

// NewRootCommand はcolonygateのコマンドツリーを生成する。
// サブコマンドを省略した場合はserveとして起動する。
func NewRootCommand(logOutput io.Writer) *cobra.Command {
	return newRootCommand(&rootOptions{logOutput: logOutput, openAdmin: openAdmin})
}

func newRootCommand(o *rootOptions) *cobra.Command {
	var serveOpts serveOptions
	serve := func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := Init(o.logOutput)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		logger.Info("starting application",
			slog.String("addr", cfg.ListenAddr()),
			slog.String("server_url", cfg.ServerURL),
			slog.String("storage", cfg.StorageType),
		)
		return runServe(cmd.Context(), cfg, logger, serveOpts)
	}

	root := &cobra.Command{
		Use:           "colonygate",
		Short:         "Discord role gating on Colony reputation and token balances",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web server, the Discord bot and the background workers",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}
	serveCmd.Flags().BoolVar(&serveOpts.webOnly, "web-only", false, "serve the registration pages without connecting to Discord")

	root.AddCommand(
		serveCmd,
		o.migrateCommand(),
		healthcheckCommand(),
		o.configCommand(),
		keyCommand(),
		o.guildCommand(),
		o.userCommand(),
		o.gateCommand(),
		o.checkCommand(),
	)
	return root
}

func (o *rootOptions) migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply all pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := Init(o.logOutput)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrate(cfg, logger)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := Init(o.logOutput)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrateStatus(cfg, cmd.OutOrStdout())
		},
	})
	return cmd
}

// healthcheckCommand は設定を読み込まずに /health を確認する。
func healthcheckCommand() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check the /health endpoint of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				url = "http://localhost:" + healthcheckPort()
			}
			return runHealthcheck(cmd.Context(), url)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "base URL of the server (default http://localhost:$SERVER_PORT)")
	return cmd
}

func (o *rootOptions) configCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect the configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := Init(o.logOutput)
			if err != nil {
				return err
			}
			for _, e := range cfg.Entries() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", e.Name, e.Value)
			}
			return nil
		},
	})
	return cmd
}

func keyCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "key", Short: "Manage the wallet encryption key"}
	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Print a new random ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := storage.GenerateEncryptionKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	})
	return cmd
}

// admin は管理コマンドの実行環境を開いてfnを実行し、終了時に閉じる。
func (o *rootOptions) admin(cmd *cobra.Command, fn func(ctx context.Context, env *adminEnv, out io.Writer) error) error {
	cfg, logger, err := Init(o.logOutput)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	ctx := cmd.Context()
	env, err := o.openAdmin(ctx, cfg, logger)
	if err != nil {
		return err
	}
	runErr := fn(ctx, env, cmd.OutOrStdout())
	if err := env.close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (o *rootOptions) guildCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "guild", Short: "Manage guilds with gates"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List guilds that have at least one gate",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return o.admin(cmd, listGuilds)
			},
		},
		&cobra.Command{
			Use:   "remove <guild-id>",
			Short: "Remove every gate of a guild",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				guildID, err := parseUint("guild id", args[0])
				if err != nil {
					return err
				}
				return o.admin(cmd, func(ctx context.Context, env *adminEnv, out io.Writer) error {
					return removeGuild(ctx, env, out, guildID)
				})
			},
		},
	)
	return cmd
}

func (o *rootOptions) userCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage registered users"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List registered users and their wallets",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return o.admin(cmd, listUsers)
			},
		},
		&cobra.Command{
			Use:   "add <user-id> <wallet>",
			Short: "Register a wallet for a user",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				userID, err := parseUint("user id", args[0])
				if err != nil {
					return err
				}
				return o.admin(cmd, func(ctx context.Context, env *adminEnv, out io.Writer) error {
					return addUser(ctx, env, out, userID, args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "remove <user-id>",
			Short: "Delete a user's registration",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				userID, err := parseUint("user id", args[0])
				if err != nil {
					return err
				}
				return o.admin(cmd, func(ctx context.Context, env *adminEnv, out io.Writer) error {
					return removeUser(ctx, env, out, userID)
				})
			},
		},
	)
	return cmd
}

func (o *rootOptions) gateCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "gate", Short: "Manage gates"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list <guild-id>",
			Short: "List the gates of a guild",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				guildID, err := parseUint("guild id", args[0])
				if err != nil {
					return err
				}
				return o.admin(cmd, func(ctx context.Context, env *adminEnv, out io.Writer) error {
					return listGates(ctx, env, out, guildID)
				})
			},
		},
		&cobra.Command{
			Use:   "add <guild-id> <role-id> <kind> [options...]",
			Short: "Add a gate; options follow the kind's schema order",
			Args:  cobra.MinimumNArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				guildID, err := parseUint("guild id", args[0])
				if err != nil {
					return err
				}
				roleID, err := parseUint("role id", args[1])
				if err != nil {
					return err
				}
				return o.admin(cmd, func(ctx context.Context, env *adminEnv, out io.Writer) error {
					return addGate(ctx, env, out, guildID, roleID, args[2], args[3:])
				})
			},
		},
		&cobra.Command{
			Use:   "remove <guild-id> <gate-id>",
			Short: "Remove a gate by the identifier shown in gate list",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				guildID, err := parseUint("guild id", args[0])
				if err != nil {
					return err
				}
				return o.admin(cmd, func(ctx context.Context, env *adminEnv, out io.Writer) error {
					return removeGate(ctx, env, out, guildID, args[1])
				})
			},
		},
	)
	return cmd
}

func (o *rootOptions) checkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <guild-id> <user-id>",
		Short: "Evaluate the gates of a guild for a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			guildID, err := parseUint("guild id", args[0])
			if err != nil {
				return err
			}
			userID, err := parseUint("user id", args[1])
			if err != nil {
				return err
			}
			return o.admin(cmd, func(ctx context.Context, env *adminEnv, out io.Writer) error {
				return checkUser(ctx, env, out, guildID, userID)
			})
		},
	}
}
