// Package vaultctl is the operator CLI for the ingester's secret vault:
// seeding client secrets and inspecting the credential chain.
package vaultctl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/dmitrijs2005/photoimport/internal/common"
	"github.com/dmitrijs2005/photoimport/internal/ingest/models"
	"github.com/dmitrijs2005/photoimport/internal/ingest/vault"
)

var ErrUsage = errors.New("usage: vaultctl [flags] (set KEY | keys | status)")

var knownKeys = []string{
	common.SecretAccessToken,
	common.SecretRefreshToken,
	common.SecretClientSecret,
	common.SecretAPIKey,
}

type TokenStatus interface {
	Status(ctx context.Context) (models.TokenStatus, error)
}

type App struct {
	vault  vault.Vault
	tokens TokenStatus
	reader *bufio.Reader
	out    io.Writer
}

func NewApp(v vault.Vault, tokens TokenStatus, in io.Reader, out io.Writer) *App {
	return &App{vault: v, tokens: tokens, reader: bufio.NewReader(in), out: out}
}

// Run executes one command.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}

	switch args[0] {
	case "set":
		if len(args) != 2 {
			return ErrUsage
		}
		return a.Set(ctx, strings.ToUpper(args[1]))
	case "keys":
		return a.Keys(ctx)
	case "status":
		return a.Status(ctx)
	default:
		return ErrUsage
	}
}

// Set prompts for the value of key and stores it.
func (a *App) Set(ctx context.Context, key string) error {
	if !slices.Contains(knownKeys, key) {
		return fmt.Errorf("unknown key %q (known: %s)", key, strings.Join(knownKeys, ", "))
	}

	value, err := GetSecret(a.reader, "Value for "+key, a.out)
	if err != nil {
		return fmt.Errorf("read value: %w", err)
	}
	if value == "" {
		return errors.New("empty value")
	}

	if err := a.vault.Set(ctx, map[string]string{key: value}); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s stored\n", key)
	return nil
}

// Keys reports which secrets are present without printing them.
func (a *App) Keys(ctx context.Context) error {
	values, version, err := a.vault.Get(ctx, knownKeys)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "vault version %d\n", version)
	for _, k := range knownKeys {
		state := "missing"
		if values[k] != "" {
			state = "set"
		}
		fmt.Fprintf(a.out, "  %-14s %s\n", k, state)
	}
	return nil
}

func (a *App) Status(ctx context.Context) error {
	st, err := a.tokens.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "access token:  %s\n", describe(st.AccessExpiresInMs, st.AccessExpired))
	fmt.Fprintf(a.out, "refresh token: %s\n", describe(st.RefreshExpiresInMs, st.RefreshExpired))
	return nil
}

func describe(ms int64, expired bool) string {
	if expired {
		return "expired"
	}
	return fmt.Sprintf("valid for %ds", ms/1000)
}

// CommandArgs returns the leading positional arguments. Flags for the shared
// configuration follow the command, e.g. "vaultctl set API_KEY -v data/vault.db".
func CommandArgs(args []string) []string {
	for i, a := range args {
		if strings.HasPrefix(a, "-") {
			return args[:i]
		}
	}
	return args
}
