package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/haasonsaas/eventlive/internal/credentials"
	"github.com/haasonsaas/eventlive/pkg/models"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// =============================================================================
// Auth Command Handlers
// =============================================================================

func runSignup(cmd *cobra.Command, email, firstName, lastName string) error {
	password, err := readPassword(cmd, "Password: ")
	if err != nil {
		return err
	}

	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	res, err := rt.client.Signup(cmd.Context(), models.SignupRequest{
		Email:     strings.TrimSpace(email),
		Password:  password,
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
	})
	if err != nil {
		return fmt.Errorf("signup failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s! You are signed in.\n", res.User().DisplayName())
	return nil
}

func runLogin(cmd *cobra.Command, email string) error {
	password, err := readPassword(cmd, "Password: ")
	if err != nil {
		return err
	}

	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	res, err := rt.client.Login(cmd.Context(), strings.TrimSpace(email), password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", res.User().DisplayName(), res.Email)
	return nil
}

func runLogout(cmd *cobra.Command) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	if err := rt.client.Logout(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
	return nil
}

func runWhoami(cmd *cobra.Command) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	session, err := rt.store.Load(cmd.Context())
	if errors.Is(err, credentials.ErrNoSession) {
		fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
		return nil
	}
	if err != nil {
		return err
	}
	return printWhoami(cmd.OutOrStdout(), session, time.Now())
}

func printWhoami(out io.Writer, session *credentials.Session, now time.Time) error {
	if session.User != nil {
		fmt.Fprintf(out, "User:   %s <%s>\n", session.User.DisplayName(), session.User.Email)
		fmt.Fprintf(out, "ID:     %s\n", session.User.UserID)
		if session.User.Role != "" {
			fmt.Fprintf(out, "Role:   %s\n", session.User.Role)
		}
	}
	exp, ok := credentials.TokenExpiry(session.AccessToken)
	switch {
	case !ok:
		fmt.Fprintln(out, "Token:  no expiry")
	case exp.After(now):
		fmt.Fprintf(out, "Token:  expires in %s\n", exp.Sub(now).Round(time.Second))
	default:
		fmt.Fprintln(out, "Token:  expired (will refresh on next request)")
	}
	return nil
}

// readPassword prompts without echo on a terminal, otherwise reads one line
// from the command's input.
func readPassword(cmd *cobra.Command, prompt string) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password is required")
	}
	return password, nil
}
