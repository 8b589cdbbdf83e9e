package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/kinyua-dev/cloudbot/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-run setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(resolveConfigPath())
		},
	}
}

func runOnboard(cfgPath string) error {
	if _, err := os.Stat(cfgPath); err == nil {
		overwrite := false
		confirm := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite?", cfgPath)).
			Value(&overwrite)
		if err := confirm.Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Keeping the existing config.")
			return nil
		}
	}

	cfg := config.Default()
	var (
		owners    string
		sessionID = "main"
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bridge WebSocket URL").
				Description("The protocol bridge endpoint, e.g. ws://localhost:3001/ws").
				Value(&cfg.Bridge.URL).
				Validate(func(s string) error {
					if !strings.HasPrefix(s, "ws://") && !strings.HasPrefix(s, "wss://") {
						return fmt.Errorf("must start with ws:// or wss://")
					}
					return nil
				}),
			huh.NewInput().
				Title("Command prefix").
				Value(&cfg.Prefix).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("prefix must not be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Session id").
				Value(&sessionID),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Owner numbers").
				Description("Comma-separated, may be empty. Owners can change privacy settings.").
				Value(&owners),
			huh.NewConfirm().
				Title("React to incoming messages automatically?").
				Value(&cfg.AutoReact),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	if owners != "" {
		for _, o := range strings.Split(owners, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Owners = append(cfg.Owners, o)
			}
		}
	}
	if sessionID == "" {
		sessionID = "main"
	}
	cfg.Sessions = []config.SessionConfig{{ID: sessionID}}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(cfgPath, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Wrote %s. Start the gateway with: cloudbot serve\n", cfgPath)
	return nil
}
