package cli

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/CRMbyRSM/PRSM/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Interactively set the gateway connection",
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := config.OpenCache(configPath(), time.Minute)
		if err != nil {
			return err
		}
		hash := cache.Hash()

		edited := *cache.Get()
		if err := configureForm(&edited).Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				fmt.Fprintln(cmd.OutOrStdout(), styleMuted.Render("Cancelled, nothing saved."))
				return nil
			}
			return err
		}
		if err := edited.Validate(); err != nil {
			return err
		}
		if err := cache.SaveIfUnchanged(&edited, hash); err != nil {
			if errors.Is(err, config.ErrConfigChanged) {
				return fmt.Errorf("%w; run configure again", err)
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), styleSuccess.Render("Saved "+cache.Path()))
		return nil
	},
}

var configureShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(configPath())
		if err != nil {
			return err
		}
		masked := *cfg
		masked.Gateway.Auth.Token = maskSecret(masked.Gateway.Auth.Token)
		masked.Gateway.Auth.Password = maskSecret(masked.Gateway.Auth.Password)
		return printJSON(cmd.OutOrStdout(), masked)
	},
}

func configureForm(cfg *config.Config) *huh.Form {
	g := &cfg.Gateway
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway URL").
				Description("ws:// or wss:// address of the gateway").
				Value(&g.URL).
				Validate(validateGatewayURL),
			huh.NewSelect[string]().
				Title("Authentication").
				Options(
					huh.NewOption("Token", config.AuthModeToken),
					huh.NewOption("Password", config.AuthModePassword),
					huh.NewOption("None", config.AuthModeNone),
				).
				Value(&g.Auth.Mode),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway token").
				Value(&g.Auth.Token).
				EchoMode(huh.EchoModePassword),
		).WithHideFunc(func() bool { return g.Auth.Mode != config.AuthModeToken }),
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway password").
				Value(&g.Auth.Password).
				EchoMode(huh.EchoModePassword),
		).WithHideFunc(func() bool { return g.Auth.Mode != config.AuthModePassword }),
		huh.NewGroup(
			huh.NewInput().
				Title("Default session key").
				Placeholder("main").
				Value(&cfg.Session.DefaultKey),
			huh.NewSelect[string]().
				Title("Log level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&cfg.Log.Level),
			huh.NewConfirm().
				Title("Record calls and messages locally?").
				Value(&cfg.CallLog.Enabled),
		),
	)
}

func validateGatewayURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("scheme must be ws or wss")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-2:]
}

func init() {
	configureCmd.AddCommand(configureShowCmd)
}
