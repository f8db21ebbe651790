package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cl "tycoon/internal/cli"
	"tycoon/internal/config"
	"tycoon/internal/game"

	"github.com/spf13/cobra"
)

const requestTimeout = 30 * time.Second

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "tycoon",
		Short:        "Crypto tycoon terminal client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newStartCmd(&apiBase),
		newMarketCmd(&apiBase),
		newCoinCmd(&apiBase),
		newPortfolioCmd(&apiBase),
		newDashCmd(&apiBase),
		newHistoryCmd(&apiBase),
		newOrderCmd(&apiBase, game.SideBuy),
		newOrderCmd(&apiBase, game.SideSell),
		newMaxCmd(&apiBase),
		newActiveCmd(&apiBase, true),
		newActiveCmd(&apiBase, false),
		newResetCmd(&apiBase),
		newQuitCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

// currentSession loads the saved session and the client that talks to the
// server it was started on.
func currentSession(apiBase *string) (*cl.Client, cl.Session, error) {
	sess, err := cl.LoadSession()
	if errors.Is(err, cl.ErrNoSession) {
		return nil, cl.Session{}, fmt.Errorf("%w, run `tycoon start`", err)
	}
	if err != nil {
		return nil, cl.Session{}, err
	}
	return sess.Client(*apiBase), sess, nil
}

func sessionErr(err error) error {
	if cl.IsNotFound(err) && strings.Contains(err.Error(), game.ErrSessionNotFound.Error()) {
		_ = cl.ClearSession()
		return errors.New("this game has ended on the server, run `tycoon start` for a new one")
	}
	return err
}

func newStartCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start [NAME]",
		Short: "Start a new game",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			} else {
				var err error
				name, err = promptRequired("Display name")
				if err != nil {
					return err
				}
			}
			if prev, err := cl.LoadSession(); err == nil {
				ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
				_ = prev.Client(*apiBase).EndSession(ctx, prev.SessionID)
				cancel()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			d, err := newClient(apiBase).StartSession(ctx, name)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.NewSession(d, *apiBase)); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Welcome, %s. You have $%s to trade with.", d.Player.DisplayName, formatCents(d.CashCents)))
			printInfo("Run `tycoon play` to open the market.")
			return nil
		},
	}
}

func newMarketCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "market",
		Short: "List every coin with its price and trend",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := currentSession(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			snap, err := client.Market(ctx, sess.SessionID)
			if err != nil {
				return sessionErr(err)
			}
			renderMarket(snap)
			return nil
		},
	}
}

func newCoinCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "coin SYMBOL",
		Short: "Show one coin and your position in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := currentSession(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			coin, err := client.Coin(ctx, sess.SessionID, game.NormalizeSymbol(args[0]))
			if err != nil {
				return sessionErr(err)
			}
			renderCoin(coin)
			return nil
		},
	}
}

func newPortfolioCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio",
		Short: "Show cash, holdings and net worth",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := currentSession(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			pf, err := client.Portfolio(ctx, sess.SessionID)
			if err != nil {
				return sessionErr(err)
			}
			renderPortfolio(pf)
			return nil
		},
	}
}

func newDashCmd(apiBase *string) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "dash",
		Short: "Show the game dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := currentSession(apiBase)
			if err != nil {
				return err
			}
			if !watch {
				ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
				defer cancel()
				d, err := client.Dashboard(ctx, sess.SessionID)
				if err != nil {
					return sessionErr(err)
				}
				renderDashboard(d)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err = client.Stream(ctx, sess.SessionID, func(d game.Dashboard) error {
				clearScreen()
				renderDashboard(d)
				printInfo("Watching live ticks. Ctrl+C to stop.")
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return sessionErr(err)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep the dashboard open and redraw on every tick")
	return cmd
}

func newHistoryCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show your net worth over time",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := currentSession(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			points, err := client.History(ctx, sess.SessionID)
			if err != nil {
				return sessionErr(err)
			}
			renderHistory(points)
			return nil
		},
	}
}

func newOrderCmd(apiBase *string, side game.Side) *cobra.Command {
	verb := string(side)
	return &cobra.Command{
		Use:   verb + " SYMBOL QTY",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " whole units at the current price (QTY may be `max` when buying)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := currentSession(apiBase)
			if err != nil {
				return err
			}
			symbol := game.NormalizeSymbol(args[0])
			qty := strings.TrimSpace(args[1])

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if side == game.SideBuy && strings.EqualFold(qty, "max") {
				units, err := client.MaxBuy(ctx, sess.SessionID, symbol)
				if err != nil {
					return sessionErr(err)
				}
				qty = fmt.Sprint(units)
			}
			res, err := client.PlaceOrder(ctx, sess.SessionID, symbol, side, qty)
			if err != nil {
				return sessionErr(err)
			}
			renderOrderResult(res)
			return nil
		},
	}
}

func newMaxCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "max SYMBOL",
		Short: "Show how many units your cash can buy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := currentSession(apiBase)
			if err != nil {
				return err
			}
			symbol := game.NormalizeSymbol(args[0])
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			units, err := client.MaxBuy(ctx, sess.SessionID, symbol)
			if err != nil {
				return sessionErr(err)
			}
			fmt.Printf("You can buy up to %s %s.\n", accent.Sprint(comma(units)), symbol)
			return nil
		},
	}
}

func newActiveCmd(apiBase *string, active bool) *cobra.Command {
	use, short, done := "pause", "Freeze the market", "Market paused."
	if active {
		use, short, done = "play", "Open the market so prices move", "Market is live."
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := currentSession(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			d, err := client.SetActive(ctx, sess.SessionID, active)
			if err != nil {
				return sessionErr(err)
			}
			printSuccess(fmt.Sprintf("%s Tick %d, net worth $%s.", done, d.Tick, formatCents(d.NetWorthCents)))
			return nil
		},
	}
}

func newResetCmd(apiBase *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Start over with fresh cash and a new market",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := currentSession(apiBase)
			if err != nil {
				return err
			}
			if !yes {
				answer, err := promptChoice("Reset wipes your holdings and history. Continue?", []string{"yes", "no"}, "no")
				if err != nil {
					return err
				}
				if answer != "yes" {
					printInfo("Reset cancelled.")
					return nil
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			d, err := client.Reset(ctx, sess.SessionID)
			if err != nil {
				return sessionErr(err)
			}
			sess, err = sess.WithDashboard(d)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(sess); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Game reset. Cash $%s, market paused.", formatCents(d.CashCents)))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newQuitCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "quit",
		Short: "End the game on the server and forget it locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := currentSession(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := client.EndSession(ctx, sess.SessionID); err != nil && !cl.IsNotFound(err) {
				return err
			}
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Game over. Thanks for playing.")
			return nil
		},
	}
}
