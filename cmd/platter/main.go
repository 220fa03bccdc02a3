package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/five82/platter/internal/api"
	"github.com/five82/platter/internal/app"
	"github.com/five82/platter/internal/cart"
	"github.com/five82/platter/internal/config"
	"github.com/five82/platter/internal/prefs"
	"github.com/five82/platter/internal/state"
)

const (
	flagConfig        = "config"
	flagAPIURL        = "api-url"
	flagToken         = "token"
	flagStorage       = "storage"
	flagStorageDSN    = "storage-dsn"
	flagPrefs         = "prefs"
	flagOrder         = "order"
	configKeyAPIURL   = "api_url"
	configKeyToken    = "token"
	configKeyStorage  = "storage_driver"
	configKeyDSN      = "storage_dsn"
	trackPollInterval = time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "platter: %v\n", err)
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	var orderID string

	cmd := &cobra.Command{
		Use:           "platter",
		Short:         "Restaurant ordering client: cart, wallet and live order tracking",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			prefsPath, err := cmd.Flags().GetString(flagPrefs)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context(), app.Options{Config: *cfg, PrefsPath: prefsPath, OrderID: orderID})
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagConfig, "", "config file path (default "+config.DefaultPath+")")
	flags.String(flagAPIURL, "", "backend API base URL")
	flags.String(flagToken, "", "bearer token for authenticated calls")
	flags.String(flagStorage, "", "storage driver: memory, file, sqlite, postgres or redis")
	flags.String(flagStorageDSN, "", "storage DSN or directory")
	flags.String(flagPrefs, "", "preferences file path (default "+prefs.DefaultPath()+")")
	cmd.Flags().StringVar(&orderID, flagOrder, "", "order id to track on startup")

	cmd.AddCommand(
		newCartCommand(cfg),
		newWalletCommand(cfg),
		newTrackCommand(cfg),
		newVersionsCommand(cfg),
		newLogoutCommand(cfg),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("platter")
	v.AutomaticEnv()

	bindings := []struct {
		key  string
		env  string
		flag string
	}{
		{configKeyAPIURL, "PLATTER_API_URL", flagAPIURL},
		{configKeyToken, "PLATTER_TOKEN", flagToken},
		{configKeyStorage, "PLATTER_STORAGE", flagStorage},
		{configKeyDSN, "PLATTER_STORAGE_DSN", flagStorageDSN},
	}
	for _, b := range bindings {
		if err := v.BindEnv(b.key, b.env); err != nil {
			return err
		}
		if err := v.BindPFlag(b.key, cmd.Flags().Lookup(b.flag)); err != nil {
			return err
		}
	}

	path, err := cmd.Flags().GetString(flagConfig)
	if err != nil {
		return err
	}
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if s := strings.TrimSpace(v.GetString(configKeyAPIURL)); s != "" {
		loaded.APIURL = s
	}
	if s := strings.TrimSpace(v.GetString(configKeyToken)); s != "" {
		loaded.Token = s
	}
	if s := strings.TrimSpace(v.GetString(configKeyStorage)); s != "" {
		loaded.StorageDriver = strings.ToLower(s)
	}
	if s := strings.TrimSpace(v.GetString(configKeyDSN)); s != "" {
		loaded.StorageDSN = s
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	*cfg = loaded
	return nil
}

// withRuntime opens a runtime without the dashboard and closes it after fn.
func withRuntime(ctx context.Context, cfg config.Config, fn func(*app.Runtime) error) (err error) {
	rt, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(rt)
}

func newCartCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Show the persisted cart",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), *cfg, func(rt *app.Runtime) error {
				st := rt.Session.Cart.State()
				out := cmd.OutOrStdout()
				if st.Empty() {
					fmt.Fprintln(out, "cart is empty")
					return nil
				}
				for _, item := range st.Items {
					fmt.Fprintf(out, "%3d x %-30s %8.2f\n", item.Quantity, item.Name, item.LineTotal())
				}
				fmt.Fprintf(out, "%d items, total %.2f (%.2f before discounts)\n",
					st.TotalItems, st.TotalPrice, st.TotalPriceWithoutDiscount)
				return nil
			})
		},
	}
	var qty int
	add := &cobra.Command{
		Use:   "add ITEM_ID",
		Short: "Add a menu item to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if qty < 1 {
				return fmt.Errorf("quantity must be at least 1, got %d", qty)
			}
			return withRuntime(cmd.Context(), *cfg, func(rt *app.Runtime) error {
				ctx := cmd.Context()
				item, err := rt.Session.Catalog.MenuItem(ctx, args[0])
				if err != nil {
					return err
				}
				if !item.Available {
					return fmt.Errorf("%s is unavailable", item.Name)
				}
				c := rt.Session.Cart
				st, err := c.AddItem(ctx, cart.FromMenuItem(item))
				if err == nil && qty > 1 {
					st, err = c.UpdateQuantity(ctx, item.ID, c.ItemQuantity(item.ID)+qty-1)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d x %s in cart, total %.2f\n", st.Quantity(item.ID), item.Name, st.TotalPrice)
				return nil
			})
		},
	}
	add.Flags().IntVar(&qty, "qty", 1, "how many to add")

	cmd.AddCommand(
		add,
		&cobra.Command{
			Use:   "set ITEM_ID QUANTITY",
			Short: "Set the quantity of a cart item (0 removes it)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("quantity %q: %w", args[1], err)
				}
				return withRuntime(cmd.Context(), *cfg, func(rt *app.Runtime) error {
					if rt.Session.Cart.ItemQuantity(args[0]) == 0 {
						return fmt.Errorf("%s is not in the cart", args[0])
					}
					_, err := rt.Session.Cart.UpdateQuantity(cmd.Context(), args[0], n)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "remove ITEM_ID",
			Short: "Remove an item from the cart",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRuntime(cmd.Context(), *cfg, func(rt *app.Runtime) error {
					if rt.Session.Cart.ItemQuantity(args[0]) == 0 {
						return fmt.Errorf("%s is not in the cart", args[0])
					}
					_, err := rt.Session.Cart.RemoveItem(cmd.Context(), args[0])
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Empty the persisted cart",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRuntime(cmd.Context(), *cfg, func(rt *app.Runtime) error {
					_, err := rt.Session.Cart.ClearCart(cmd.Context())
					return err
				})
			},
		},
	)
	return cmd
}

func newWalletCommand(cfg *config.Config) *cobra.Command {
	var force, hard bool
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Show wallet balance, transactions and referral stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), *cfg, func(rt *app.Runtime) error {
				ctx := cmd.Context()
				w := rt.Session.Wallet
				if hard {
					if err := w.HardRefresh(ctx); err != nil {
						return err
					}
				}
				balance, balanceErr := w.FetchBalance(ctx, force)
				txs, txErr := w.FetchTransactions(ctx, force)
				summary, summaryErr := w.FetchSummary(ctx, force)
				code, codeErr := w.FetchReferralCode(ctx, force)

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "balance: %.2f\n", balance)
				if code != "" {
					fmt.Fprintf(out, "referral code: %s\n", code)
				}
				fmt.Fprintf(out, "referrals: %d, earned %.2f\n",
					summary.ReferralStats.TotalReferrals, summary.ReferralStats.TotalEarned)
				for _, tx := range txs {
					fmt.Fprintf(out, "  %s  %-8s %8.2f  %s\n", tx.CreatedAt, tx.Type, tx.Amount, tx.Description)
				}
				return errors.Join(balanceErr, txErr, summaryErr, codeErr)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "bypass the two minute wallet cache")
	cmd.Flags().BoolVar(&hard, "hard", false, "drop the stored wallet snapshot and refetch everything")
	cmd.AddCommand(&cobra.Command{
		Use:   "apply-referral CODE",
		Short: "Apply a referral code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), *cfg, func(rt *app.Runtime) error {
				res, err := rt.Session.Wallet.ApplyReferral(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (bonus %.2f)\n", res.Message, res.Bonus)
				return nil
			})
		},
	})
	return cmd
}

func newTrackCommand(cfg *config.Config) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "track ORDER_ID",
		Short: "Follow an order until it reaches a final status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), *cfg, func(rt *app.Runtime) error {
				ctx := cmd.Context()
				if once {
					order, err := rt.Session.Client.TrackOrder(ctx, args[0])
					if err != nil {
						return err
					}
					printOrder(cmd.OutOrStdout(), order)
					return nil
				}
				tracker, err := rt.Session.TrackOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return follow(ctx, cmd.OutOrStdout(), tracker.Snapshot)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "print the tracking view once instead of following")
	return cmd
}

func printOrder(out io.Writer, o api.Order) {
	number := o.OrderNumber
	if number == "" {
		number = o.ID
	}
	fmt.Fprintf(out, "order %s: %s, total %.2f\n", number, o.Status.Label(), o.Total)
	for _, h := range o.StatusHistory {
		fmt.Fprintf(out, "  %s  %s\n", h.Timestamp, h.Status.Label())
	}
}

// follow prints every status or connection change until the order is final
// or ctx ends.
func follow(ctx context.Context, out io.Writer, snapshot func() state.Snapshot) error {
	ticker := time.NewTicker(trackPollInterval)
	defer ticker.Stop()

	var last string
	for {
		snap := snapshot()
		status := snap.Status()
		line := fmt.Sprintf("%-16s %s", status.Label(), snap.Connection)
		if snap.Polling {
			line += " (polling)"
		}
		if snap.IsOffline() {
			line += " offline"
		}
		if snap.LastError != "" {
			line += ": " + snap.LastError
		}
		if line != last {
			fmt.Fprintf(out, "%s  %s\n", time.Now().Format("15:04:05"), line)
			last = line
		}
		if snap.Order != nil && !status.IsActive() && status != "" {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func newVersionsCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "Fetch the backend data versions once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), *cfg, func(rt *app.Runtime) error {
				if err := rt.Session.Versions.Poll(cmd.Context()); err != nil {
					return err
				}
				v := rt.Session.Versions.State().Current
				printVersions(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}
}

func printVersions(out io.Writer, v api.VersionVector) {
	fmt.Fprintf(out, "menu=%d categories=%d banners=%d\n", v.Menu, v.Categories, v.Banners)
}

func newLogoutCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the cart, wallet cache and user data",
		RunE: func(cmd *cobra.Command, args []string) error {
			prefsPath, err := cmd.Flags().GetString(flagPrefs)
			if err != nil {
				return err
			}
			err = withRuntime(cmd.Context(), *cfg, func(rt *app.Runtime) error {
				return rt.Session.Logout(cmd.Context())
			})
			return errors.Join(err, forgetOrders(prefsPath))
		},
	}
}

// forgetOrders drops the remembered orders so the next dashboard launch does
// not track the previous user's order.
func forgetOrders(path string) error {
	p, err := prefs.Load(path)
	if err != nil {
		return err
	}
	if p.LastOrderID == "" && len(p.RecentOrders) == 0 {
		return nil
	}
	p.ForgetOrders()
	return prefs.Save(path, p)
}
