// SPDX-License-Identifier: MIT

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	xlog "github.com/spanops/spand/internal/log"
	"github.com/spanops/spand/internal/spanpanel"
)

// PanelAPI is the slice of the panel client the proximity flow needs.
type PanelAPI interface {
	Status(ctx context.Context) (*spanpanel.StatusOut, error)
	Panel(ctx context.Context) (*spanpanel.PanelState, error)
	Register(ctx context.Context, name, description string) (*spanpanel.RegisterOut, error)
}

// Flow runs the proof-of-proximity registration against one panel:
// the operator unlocks the panel door, the panel reports proximity as
// proven, and registration yields a bearer token.
type Flow struct {
	host         string
	pollInterval time.Duration
	clientName   string

	// newClient builds a panel client with the given token ("" for none).
	// Overridable in tests.
	newClient func(host, token string) (PanelAPI, error)
}

// NewFlow creates a proximity flow for the panel at host.
func NewFlow(host string) *Flow {
	return &Flow{
		host:         host,
		pollInterval: 2 * time.Second,
		clientName:   defaultClientName(),
		newClient: func(host, token string) (PanelAPI, error) {
			opts := []spanpanel.Option{}
			if token != "" {
				opts = append(opts, spanpanel.WithAccessToken(token))
			}
			return spanpanel.New(host, opts...)
		},
	}
}

func defaultClientName() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "spand-" + id
}

// proximityProven decides whether registration may proceed.
// Firmware >= r202342 reports an explicit proximityProven flag; older
// firmware counts the remaining door unlock button presses down to zero.
func proximityProven(st *spanpanel.StatusOut) bool {
	if st.System.ProximityProven != nil {
		return *st.System.ProximityProven
	}
	return st.System.RemainingAuthUnlockButtonPresses == 0
}

// WaitAndRegister blocks until the operator has proven proximity, registers
// a new API client on the panel and returns the validated access token.
func (f *Flow) WaitAndRegister(ctx context.Context) (string, error) {
	logger := xlog.WithComponentFromContext(ctx, "auth")

	anon, err := f.newClient(f.host, "")
	if err != nil {
		return "", err
	}

	logger.Info().
		Str("event", "auth.wait_proximity").
		Str("client_name", f.clientName).
		Msg("waiting for panel door unlock (open the panel door, press the door sensor 3 times)")

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		st, err := anon.Status(ctx)
		if err != nil {
			logger.Warn().Err(err).Str("event", "auth.status_failed").Msg("status poll failed")
		} else if proximityProven(st) {
			break
		} else if st.System.ProximityProven == nil {
			logger.Info().
				Str("event", "auth.unlock_progress").
				Int("remaining_presses", st.System.RemainingAuthUnlockButtonPresses).
				Msg("door unlock not complete yet")
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}

	out, err := anon.Register(ctx, f.clientName, "spand panel bridge")
	if err != nil {
		return "", fmt.Errorf("register client: %w", err)
	}

	// A freshly issued token that does not open authenticated endpoints is a
	// hard error; there is nothing sensible to retry.
	authed, err := f.newClient(f.host, out.AccessToken)
	if err != nil {
		return "", err
	}
	if _, err := authed.Panel(ctx); err != nil {
		return "", fmt.Errorf("issued token failed validation: %w", err)
	}

	logger.Info().
		Str("event", "auth.registered").
		Str("client_name", f.clientName).
		Msg("panel access token issued and validated")

	return out.AccessToken, nil
}

// ValidateToken checks an operator-supplied token against an authenticated
// endpoint.
func (f *Flow) ValidateToken(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("empty access token")
	}
	authed, err := f.newClient(f.host, token)
	if err != nil {
		return err
	}
	if _, err := authed.Panel(ctx); err != nil {
		return fmt.Errorf("token validation: %w", err)
	}
	return nil
}
