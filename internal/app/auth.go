package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"esgwatch/internal/session"
)

// Login exchanges credentials for a token and persists the session.
func (a *App) Login(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return errors.New("email and password are required")
	}

	sess, err := a.newSession()
	if err != nil {
		return err
	}
	resp, err := a.newClient(nil).Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := sess.SetAuth(resp.AccessToken, resp.User()); err != nil {
		return err
	}

	a.Logger.Info().Str("user_id", resp.UserID).Str("tenant_id", resp.TenantID).Msg("logged in")
	fmt.Fprintf(a.Out, "logged in as %s\n", displayName(resp.FullName, resp.Email))
	return nil
}

// Logout clears the persisted session.
func (a *App) Logout() error {
	sess := session.New(a.Config.Session.Path, a.Logger)
	if err := sess.Logout(); err != nil {
		return err
	}
	fmt.Fprintln(a.Out, "logged out")
	return nil
}

// Whoami prints the stored profile.
func (a *App) Whoami() error {
	sess, err := a.authedSession()
	if err != nil {
		return err
	}
	user, _ := sess.User()
	fmt.Fprintf(a.Out, "%s <%s>\nuser:   %s\ntenant: %s\n", displayName(user.FullName, user.Email), user.Email, user.UserID, user.TenantID)
	if exp, ok := session.TokenExpiry(sess.Token()); ok {
		fmt.Fprintf(a.Out, "expires: %s\n", exp.UTC().Format(time.RFC3339))
	}
	return nil
}

func displayName(name, email string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return email
}
