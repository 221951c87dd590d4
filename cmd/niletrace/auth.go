package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/niletrace/pkg/models"
)

func newLoginCmd(opts *globalOptions) *cobra.Command {
	var req models.LoginRequest

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print a bearer token",
		Long: `Log in with email and password and print the issued token.

The password may be passed with --password or NILETRACE_PASSWORD.

Example:
  export NILETRACE_TOKEN=$(niletrace login --email me@example.com -o json | jq -r .token)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Password == "" {
				req.Password = os.Getenv("NILETRACE_PASSWORD")
			}
			if req.Email == "" || req.Password == "" {
				return errors.New("email and password are required")
			}

			client, _, err := opts.newClient(cmd)
			if err != nil {
				return err
			}
			resp, err := client.Login(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			return printAuth(cmd, opts, resp)
		},
	}

	cmd.Flags().StringVar(&req.Email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&req.Password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSignupCmd(opts *globalOptions) *cobra.Command {
	var req models.SignupRequest

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and print a bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Password == "" {
				req.Password = os.Getenv("NILETRACE_PASSWORD")
			}
			if req.Email == "" || req.Password == "" || req.Name == "" {
				return errors.New("email, password and name are required")
			}

			client, _, err := opts.newClient(cmd)
			if err != nil {
				return err
			}
			resp, err := client.Signup(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("signup: %w", err)
			}
			return printAuth(cmd, opts, resp)
		},
	}

	cmd.Flags().StringVar(&req.Email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&req.Password, "password", "", "account password")
	cmd.Flags().StringVar(&req.Name, "name", "", "display name (required)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func printAuth(cmd *cobra.Command, opts *globalOptions, resp *models.AuthResponse) error {
	return render(cmd.OutOrStdout(), opts.output, resp, func(tw *tabwriter.Writer) {
		row(tw, "Logged in as", fmt.Sprintf("%s <%s>", resp.User.Name, resp.User.Email))
		row(tw, "Token", resp.Token)
		row(tw, "")
		row(tw, "export NILETRACE_TOKEN="+resp.Token)
	})
}

func newWhoamiCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the user the current token belongs to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := opts.newClient(cmd)
			if err != nil {
				return err
			}
			if err := requireToken(client); err != nil {
				return err
			}

			user, err := client.Me(cmd.Context())
			if err != nil {
				return fmt.Errorf("whoami: %w", err)
			}

			exp, hasExp, _ := client.TokenExpiry()
			return render(cmd.OutOrStdout(), opts.output, user, func(tw *tabwriter.Writer) {
				row(tw, "ID", user.ID)
				row(tw, "Email", user.Email)
				row(tw, "Name", orDash(user.Name))
				if hasExp {
					row(tw, "Token expires", formatTime(exp))
				}
			})
		},
	}
}
