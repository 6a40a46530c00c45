package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"authsession/internal/client"
	"authsession/internal/config"
	"authsession/internal/log"
)

type app struct {
	cfg     *config.ClientConfig
	storage *client.BadgerStorage
	session *client.Session
}

func rootCmd(a *app) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "authctl",
		Short:         "Command line client for the auth session service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(v)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("server", "", "Auth API base URL (e.g. http://localhost:5000/api/auth)")
	flags.String("state-dir", "", "Directory holding the persisted session")
	flags.Duration("timeout", 0, "HTTP timeout")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	bind(v, cmd, "serverurl", "server")
	bind(v, cmd, "statedir", "state-dir")
	bind(v, cmd, "timeout", "timeout")
	bind(v, cmd, "loglevel", "log-level")

	cmd.AddCommand(
		a.registerCmd(),
		a.loginCmd(),
		a.logoutCmd(),
		a.meCmd(),
		a.updateProfileCmd(),
		a.changePasswordCmd(),
		a.usersCmd(),
	)
	return cmd
}

// bind lets an explicitly set flag override file and environment values.
func bind(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	_ = v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag))
}

func (a *app) open(v *viper.Viper) error {
	cfg, err := config.LoadClient(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	storage, err := client.NewBadgerStorage(cfg.StateDir)
	if err != nil {
		return err
	}

	logger := log.NewWithWriter(os.Stderr, "cli", cfg.LogLevel)
	api := client.NewAPI(cfg.ServerURL, &http.Client{Timeout: cfg.Timeout}, storage)

	a.cfg = cfg
	a.storage = storage
	a.session = client.NewSession(api, storage, logger)
	return nil
}

// close releases the badger directory lock. It runs even when a command
// fails, so a later invocation can open the same state dir.
func (a *app) close() error {
	if a.storage == nil {
		return nil
	}
	err := a.storage.Close()
	a.storage = nil
	return err
}

func execute(args []string, out io.Writer) error {
	a := &app{}
	cmd := rootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(out)

	err := cmd.Execute()
	if closeErr := a.close(); err == nil {
		err = closeErr
	}
	return err
}

func check(res client.Result) error {
	if res.Success {
		return nil
	}
	if res.Error == "" {
		return errors.New("operation failed")
	}
	return errors.New(res.Error)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printState(cmd *cobra.Command) error {
	st := a.session.State()
	return printJSON(cmd, map[string]any{
		"authenticated": st.IsAuthenticated,
		"admin":         st.IsAdmin,
		"user":          st.CurrentUser,
		"error":         st.Error,
	})
}

func (a *app) registerCmd() *cobra.Command {
	var input client.RegisterInput
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and start a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := check(a.session.Register(cmd.Context(), input)); err != nil {
				return err
			}
			return a.printState(cmd)
		},
	}
	cmd.Flags().StringVar(&input.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&input.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&input.Password, "password", "", "Password")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func (a *app) loginCmd() *cobra.Command {
	var creds client.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Start a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := check(a.session.Login(cmd.Context(), creds)); err != nil {
				return err
			}
			return a.printState(cmd)
		},
	}
	cmd.Flags().StringVar(&creds.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&creds.Password, "password", "", "Password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.session.Hydrate(cmd.Context())
			return check(a.session.Logout(cmd.Context()))
		},
	}
}

func (a *app) meCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Revalidate the stored session and show the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			res := a.session.Hydrate(cmd.Context())
			if err := a.printState(cmd); err != nil {
				return err
			}
			return check(res)
		},
	}
}

func (a *app) updateProfileCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "update-profile",
		Short: "Change name and/or email",
		RunE: func(cmd *cobra.Command, args []string) error {
			var input client.ProfileInput
			if cmd.Flags().Changed("name") {
				input.Name = &name
			}
			if cmd.Flags().Changed("email") {
				input.Email = &email
			}
			if input.Name == nil && input.Email == nil {
				return errors.New("nothing to update: pass --name and/or --email")
			}

			if err := hydrated(cmd.Context(), a.session); err != nil {
				return err
			}
			if err := check(a.session.UpdateProfile(cmd.Context(), input)); err != nil {
				return err
			}
			return a.printState(cmd)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "New display name")
	cmd.Flags().StringVar(&email, "email", "", "New email address")
	return cmd
}

func (a *app) changePasswordCmd() *cobra.Command {
	var current, next string
	cmd := &cobra.Command{
		Use:   "change-password",
		Short: "Change the password and store the new token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := hydrated(cmd.Context(), a.session); err != nil {
				return err
			}
			if err := check(a.session.ChangePassword(cmd.Context(), current, next)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "password updated")
			return nil
		},
	}
	cmd.Flags().StringVar(&current, "current", "", "Current password")
	cmd.Flags().StringVar(&next, "new", "", "New password")
	_ = cmd.MarkFlagRequired("current")
	_ = cmd.MarkFlagRequired("new")
	return cmd
}

func (a *app) usersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List all users (admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			users, res := a.session.ListUsers(cmd.Context())
			if err := check(res); err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"count": len(users), "users": users})
		},
	}
}

func hydrated(ctx context.Context, s *client.Session) error {
	if err := check(s.Hydrate(ctx)); err != nil {
		return err
	}
	if !s.State().IsAuthenticated {
		return errors.New("not logged in")
	}
	return nil
}
