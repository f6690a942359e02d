package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Auth Commands
// =============================================================================

func buildSignupCmd() *cobra.Command {
	var (
		email     string
		firstName string
		lastName  string
	)

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Long: `Create a member account. The password is read from the terminal
without echo, or from the first line of stdin when it is not a terminal.`,
		Example: `  eventlive signup --email ada@example.com --first-name Ada --last-name Lovelace`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignup(cmd, email, firstName, lastName)
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVar(&firstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "Last name")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func buildLoginCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Example: `  eventlive login --email ada@example.com
  echo "$PASSWORD" | eventlive login --email ada@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, email)
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func buildLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd)
		},
	}
}

func buildWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhoami(cmd)
		},
	}
}
