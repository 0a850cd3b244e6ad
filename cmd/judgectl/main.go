package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"supermafia/judge/internal/adminrpc"
	"supermafia/judge/internal/auth"
	"supermafia/judge/internal/config"
	"supermafia/judge/internal/health"
	"supermafia/judge/internal/judge"
	"supermafia/judge/internal/room"
)

var rootCmd = &cobra.Command{
	Use:          "judgectl",
	Short:        "Operate the AI Judge room supervisor",
	SilenceUsage: true,
}

var spawnCmd = &cobra.Command{
	Use:   "spawn CODE",
	Short: "Join the judge to a game room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *adminrpc.Client) error {
			if err := c.Spawn(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "spawned %s\n", args[0])
			return nil
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove CODE",
	Short: "Remove the judge from a game room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *adminrpc.Client) error {
			if err := c.Remove(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List supervised rooms",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *adminrpc.Client) error {
			rooms, err := c.List(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rooms)
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check LiveKit and reasoning service connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		host := judge.NewHostClient(cfg.Host.BaseURL, cfg.Host.Provider, &http.Client{})
		st := health.CheckAll(ctx, cfg, host, nil)
		fmt.Fprint(cmd.OutOrStdout(), st.String())
		if !st.OK {
			return fmt.Errorf("health check failed")
		}
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint signed tokens with the local secret",
}

var tokenWorkerCmd = &cobra.Command{
	Use:   "worker CODE",
	Short: "Mint a voice worker token for a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.Auth.TokenSecret == "" {
			return fmt.Errorf("JUDGE_TOKEN_SECRET is not set")
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")
		code := room.NormalizeCode(args[0], cfg.Agent.RoomPrefix)
		tok, err := auth.GenerateWorkerToken(cfg.Auth.TokenSecret, code, time.Now().Add(ttl).Unix())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

var tokenPlayerCmd = &cobra.Command{
	Use:   "player CODE IDENTITY",
	Short: "Mint a player action token for a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.Auth.TokenSecret == "" {
			return fmt.Errorf("JUDGE_TOKEN_SECRET is not set")
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")
		code := room.NormalizeCode(args[0], cfg.Agent.RoomPrefix)
		tok, err := auth.GeneratePlayerToken(cfg.Auth.TokenSecret, code, args[1], time.Now().Add(ttl).Unix())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func withClient(cmd *cobra.Command, fn func(context.Context, *adminrpc.Client) error) error {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	c, err := adminrpc.Dial(addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, c)
}

func init() {
	rootCmd.PersistentFlags().String("addr", "localhost:9090", "admin gRPC address")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "request timeout")
	tokenCmd.PersistentFlags().Duration("ttl", 2*time.Hour, "token lifetime")

	tokenCmd.AddCommand(tokenWorkerCmd, tokenPlayerCmd)
	rootCmd.AddCommand(spawnCmd, removeCmd, listCmd, healthCmd, tokenCmd)
}

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
