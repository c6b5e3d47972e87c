package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/cli"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/config"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/logger"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/order"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/storage"
)

var (
	storePath string
	logLevel  string

	cfg     *config.Config
	store   *storage.FileStorage
	handler *cli.Handler
)

var rootCmd = &cobra.Command{
	Use:   "trackctl",
	Short: "Operate a cargotrack store from the command line",
	Long: `trackctl reads and modifies the cargotrack JSON store directly.

It is meant for operators: seeding a store, inspecting orders, moving
an order through its stages and managing admin accounts without going
through the HTTP API. Do not run it against a store a live server is
writing to heavily; the file is rewritten on every change.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func setup(cmd *cobra.Command, _ []string) error {
	config.LoadEnv()
	var err error
	cfg, err = config.Load()
	if err != nil {
		return err
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}

	log := logger.New(logLevel)

	opts := []storage.Option{storage.WithLogger(log)}
	if cfg.Store.LenientRead {
		opts = append(opts, storage.WithLenientRead())
	}
	store = storage.NewFileStorage(cfg.Store.Path, opts...)

	orders := order.NewService(store, nil, nil, log)
	if loc, err := cfg.Location(); err == nil {
		orders.SetLocation(loc)
	}
	admins := auth.NewService(store, auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), log)

	handler = cli.New(orders, admins, cmd.OutOrStdout())
	return nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the store with reference lists and the default admin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		seed, err := auth.NewAdminAccount(auth.SignupInput{
			FirstName: cfg.Admin.FirstName,
			LastName:  cfg.Admin.LastName,
			Email:     cfg.Admin.Email,
			Password:  cfg.Admin.Password,
		}, auth.RoleSuperAdmin, time.Now())
		if err != nil {
			return err
		}
		created, err := store.Initialize(cmd.Context(), seed)
		if err != nil {
			return err
		}
		if !created {
			fmt.Fprintf(cmd.OutOrStdout(), "Store %s already exists, left untouched\n", store.Path())
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Store %s created, admin %s\n", store.Path(), seed.Email)
		return nil
	},
}

var (
	listFilter     order.Filter
	statusLocation string
	statusNote     string
)

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Inspect and update orders",
}

var ordersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List orders, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return handler.ListOrders(cmd.Context(), listFilter)
	},
}

var ordersShowCmd = &cobra.Command{
	Use:   "show <orderID|trackingNumber>",
	Short: "Show an order with its stage history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return handler.ShowOrder(cmd.Context(), args[0])
	},
}

var ordersStatusCmd = &cobra.Command{
	Use:   "status <orderID|trackingNumber> <status>",
	Short: "Move an order to a new stage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return handler.UpdateStatus(cmd.Context(), args[0], order.StatusUpdate{
			Status:      args[1],
			Location:    statusLocation,
			Description: statusNote,
		})
	},
}

var ordersDeleteCmd = &cobra.Command{
	Use:   "delete <orderID|trackingNumber>",
	Short: "Delete an order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return handler.DeleteOrder(cmd.Context(), args[0])
	},
}

var trackCmd = &cobra.Command{
	Use:   "track <trackingNumber>",
	Short: "Look an order up by tracking number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return handler.Track(cmd.Context(), args[0])
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print dashboard statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return handler.Stats(cmd.Context())
	},
}

var newAdmin auth.SignupInput

var adminsCmd = &cobra.Command{
	Use:   "admins",
	Short: "Manage admin accounts",
}

var adminsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List admin accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return handler.ListAdmins(cmd.Context())
	},
}

var adminsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an admin account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return handler.CreateAdmin(cmd.Context(), newAdmin)
	},
}

var adminsActivateCmd = &cobra.Command{
	Use:   "activate <adminID>",
	Short: "Allow an admin to log in again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return handler.SetAdminActive(cmd.Context(), args[0], true)
	},
}

var adminsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <adminID>",
	Short: "Block an admin from logging in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return handler.SetAdminActive(cmd.Context(), args[0], false)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "path to the store file (defaults to STORE_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	ordersListCmd.Flags().StringVar(&listFilter.Search, "search", "", "match tracking number, id, customer name, email or phone")
	ordersListCmd.Flags().StringVar(&listFilter.Status, "status", "", "only orders in this status")
	ordersListCmd.Flags().StringVar(&listFilter.ServiceType, "service-type", "", "only orders of this service type")
	ordersListCmd.Flags().IntVar(&listFilter.Page, "page", 1, "page number")
	ordersListCmd.Flags().IntVar(&listFilter.Limit, "limit", 10, "orders per page")

	ordersStatusCmd.Flags().StringVar(&statusLocation, "location", "", "where the order is now")
	ordersStatusCmd.Flags().StringVar(&statusNote, "description", "", "stage description")

	adminsCreateCmd.Flags().StringVar(&newAdmin.FirstName, "first-name", "", "first name")
	adminsCreateCmd.Flags().StringVar(&newAdmin.LastName, "last-name", "", "last name")
	adminsCreateCmd.Flags().StringVar(&newAdmin.Email, "email", "", "login email")
	adminsCreateCmd.Flags().StringVar(&newAdmin.Password, "password", "", "password, at least 6 characters")
	adminsCreateCmd.Flags().StringVar(&newAdmin.Phone, "phone", "", "phone")
	adminsCreateCmd.Flags().StringVar(&newAdmin.Company, "company", "", "company")
	_ = adminsCreateCmd.MarkFlagRequired("email")
	_ = adminsCreateCmd.MarkFlagRequired("password")

	ordersCmd.AddCommand(ordersListCmd, ordersShowCmd, ordersStatusCmd, ordersDeleteCmd)
	adminsCmd.AddCommand(adminsListCmd, adminsCreateCmd, adminsActivateCmd, adminsDeactivateCmd)
	rootCmd.AddCommand(initCmd, ordersCmd, trackCmd, statsCmd, adminsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		zap.L().Debug("Command failed", zap.Error(err))
		os.Exit(1)
	}
}
