package main

import (
	"fmt"
	"strings"

	"teamdesk/pkg/config"
	"teamdesk/pkg/recent"
	"teamdesk/pkg/utils"
	"teamdesk/pkg/validation"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	relayURL   string
	logLevel   string
	stun       []string
	history    string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "teamdesk-peer",
		Short:         "Join a TeamDesk remote desktop session from the command line",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&flags.relayURL, "relay", "", "relay websocket URL (overrides config)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (overrides config)")
	root.PersistentFlags().StringSliceVar(&flags.stun, "stun", nil, "STUN server URL, repeatable (overrides config)")

	root.PersistentFlags().StringVar(&flags.history, "history", "", "recent sessions file (default: user config dir)")

	root.AddCommand(newJoinCmd(flags), newSessionCmd(), newRecentCmd(flags))
	return root
}

// load applies flags on top of file and environment configuration.
func (f *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.relayURL != "" {
		if err := validation.ValidateRelayURL(f.relayURL); err != nil {
			return nil, err
		}
		cfg.Client.RelayURL = f.relayURL
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if len(f.stun) > 0 {
		for _, u := range f.stun {
			if err := validation.ValidateICEServerURL(u); err != nil {
				return nil, err
			}
		}
		cfg.WebRTC.ICEServers = []config.ICEServer{{URLs: f.stun}}
	}
	return cfg, nil
}

func (f *globalFlags) recentStore() (*recent.Store, error) {
	path := f.history
	if path == "" {
		var err error
		if path, err = recent.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return recent.NewStore(path, recent.DefaultLimit), nil
}

func parseRoom(arg string) (string, error) {
	room := utils.NormalizeSessionID(arg)
	if err := validation.ValidateRoomID(room); err != nil {
		return "", fmt.Errorf("invalid session id %q: %w", strings.TrimSpace(arg), err)
	}
	return room, nil
}

func newSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Print a fresh session ID to share with a viewer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := utils.GenerateSessionID()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), utils.FormatSessionID(id))
			return nil
		},
	}
}

func newRecentCmd(global *globalFlags) *cobra.Command {
	var forget bool

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recently joined sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := global.recentStore()
			if err != nil {
				return err
			}
			if forget {
				return store.Clear()
			}

			entries, err := store.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "no recent sessions")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%-12s %-10s %s\n", utils.FormatSessionID(e.SessionID), e.Role, e.UsedAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&forget, "clear", false, "forget all recent sessions")
	return cmd
}
