package fxbroker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/pquerna/otp/totp"
)

// Login exchanges user, password and a TOTP code for a bearer token.
// It is a no-op when a static token is configured.
func (c *Client) Login(ctx context.Context) error {
	if c.cfg.Token != "" {
		return nil
	}
	if c.cfg.User == "" || c.cfg.Password == "" {
		return errors.New("fxbroker: no token and no login credentials")
	}
	body := map[string]string{
		"user":     c.cfg.User,
		"password": c.cfg.Password,
	}
	if c.cfg.TOTPSecret != "" {
		code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
		if err != nil {
			return fmt.Errorf("fxbroker: totp: %w", err)
		}
		body["totp"] = code
	}

	res, err := c.request(ctx, http.MethodPost, "session", nil, body)
	if err != nil {
		return err
	}
	tok := res.Get("token").String()
	if tok == "" {
		return errors.New("fxbroker: login response carried no token")
	}
	c.SetToken(tok)
	log.Printf("[fxbroker] session established for %s", c.cfg.User)
	return nil
}
