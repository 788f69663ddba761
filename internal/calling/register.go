package calling

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"

	"github.com/kpataki/klaragw/pkg/logger"
)

// register sends one REGISTER, answering a digest challenge if the PBX
// issues one.
func (c *Client) register(ctx context.Context) error {
	res, err := c.sendRegister(ctx, nil)
	if err != nil {
		return err
	}

	if res.StatusCode == sip.StatusUnauthorized || res.StatusCode == sip.StatusProxyAuthRequired {
		headerName := "WWW-Authenticate"
		if res.StatusCode == sip.StatusProxyAuthRequired {
			headerName = "Proxy-Authenticate"
		}
		authHeader := res.GetHeader(headerName)
		if authHeader == nil {
			return fmt.Errorf("registrar sent %d without challenge", res.StatusCode)
		}
		chal, err := digest.ParseChallenge(authHeader.Value())
		if err != nil {
			return fmt.Errorf("parse digest challenge: %w", err)
		}
		cred, err := digest.Digest(chal, digest.Options{
			Method:   "REGISTER",
			URI:      fmt.Sprintf("sip:%s:%d", c.cfg.Server, c.cfg.Port),
			Username: c.cfg.AuthID,
			Password: c.cfg.Password,
		})
		if err != nil {
			return fmt.Errorf("compute digest response: %w", err)
		}
		res, err = c.sendRegister(ctx, cred)
		if err != nil {
			return err
		}
	}

	if res.StatusCode != sip.StatusOK {
		return fmt.Errorf("registration rejected: %d %s", res.StatusCode, res.Reason)
	}
	return nil
}

// sendRegister builds a fresh REGISTER transaction. cred is nil on the
// first, unauthenticated attempt.
func (c *Client) sendRegister(ctx context.Context, cred *digest.Credentials) (*sip.Response, error) {
	var recipient sip.Uri
	if err := sip.ParseUri(fmt.Sprintf("sip:%s@%s:%d", c.cfg.Extension, c.cfg.Server, c.cfg.Port), &recipient); err != nil {
		return nil, fmt.Errorf("parse registrar uri: %w", err)
	}

	req := sip.NewRequest(sip.REGISTER, recipient)
	req.AppendHeader(sip.NewHeader("Contact",
		fmt.Sprintf("<sip:%s@%s:%d>", c.cfg.Extension, c.localIP, c.cfg.LocalPort)))
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(c.cfg.ExpirySeconds)))
	if cred != nil {
		req.AppendHeader(sip.NewHeader("Authorization", cred.String()))
	}

	tx, err := c.cli.TransactionRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("send register: %w", err)
	}
	defer tx.Terminate()

	timeout := time.After(10 * time.Second)
	for {
		select {
		case res := <-tx.Responses():
			if res.IsProvisional() {
				continue
			}
			return res, nil
		case <-tx.Done():
			return nil, fmt.Errorf("register transaction terminated")
		case <-timeout:
			return nil, fmt.Errorf("register timed out")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// refreshLoop re-registers at half the expiry. On failure it marks the
// registration lost and exits; the gateway supervisor rebuilds the client.
func (c *Client) refreshLoop(ctx context.Context) {
	interval := time.Duration(c.cfg.ExpirySeconds) * time.Second / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.register(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Log.Warnf("Registration refresh failed: %v", err)
				c.registered.Store(false)
				return
			}
			logger.Log.Debugf("Registration refreshed for extension %s", c.cfg.Extension)
		}
	}
}
