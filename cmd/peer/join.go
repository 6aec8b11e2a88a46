package main

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"teamdesk/internal/client/connection"
	"teamdesk/internal/client/control"
	"teamdesk/internal/client/relay"
	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/ports"
	webrtcinfra "teamdesk/internal/infrastructure/webrtc"
	"teamdesk/pkg/logger"
	"teamdesk/pkg/utils"

	"github.com/pion/rtp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type joinFlags struct {
	role      string
	alias     string
	ivf       string
	demoInput bool
}

func newJoinCmd(global *globalFlags) *cobra.Command {
	flags := &joinFlags{}

	cmd := &cobra.Command{
		Use:   "join <session-id>",
		Short: "Join a session as the host or the viewer",
		Example: `  teamdesk-peer join "123 456 789" --role host --ivf screen.ivf
  teamdesk-peer join 123456789 --role viewer --demo-input`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := parseRoom(args[0])
			if err != nil {
				return err
			}
			role, err := domain.ParseRole(flags.role)
			if err != nil {
				return err
			}
			return runJoin(cmd.Context(), global, flags, domain.RoomID(room), role)
		},
	}
	cmd.Flags().StringVar(&flags.role, "role", "viewer", "host (initiator) or viewer (receiver)")
	cmd.Flags().StringVar(&flags.alias, "alias", "", "display name announced to the room")
	cmd.Flags().StringVar(&flags.ivf, "ivf", "", "host only: IVF file looped as the shared screen")
	cmd.Flags().BoolVar(&flags.demoInput, "demo-input", false, "viewer only: send synthetic pointer input once connected")
	return cmd
}

func runJoin(parent context.Context, global *globalFlags, flags *joinFlags, room domain.RoomID, role domain.Role) error {
	cfg, err := global.load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	zapLogger := logger.NewDevelopment(cfg.Logging.Level)
	defer func() { _ = zapLogger.Sync() }()
	log := zapLogger.Sugar().With("room_id", room, "role", role)

	if store, err := global.recentStore(); err == nil {
		if err := store.Add(string(room), string(role)); err != nil {
			log.Warnw("failed to remember session", "error", err)
		}
	}

	alias := flags.alias
	if alias == "" {
		alias = cfg.Client.Alias
	}
	alias = utils.SanitizeAlias(alias)

	client := relay.NewClient(cfg.Client.RelayURL, relay.OptionsFromConfig(cfg), log)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()
	client.OnUserConnected(func(n domain.UserConnectedNotice) {
		log.Infow("participant joined", "participant", n.ID)
	})

	factory, err := webrtcinfra.NewPeerFactory(
		webrtcinfra.FactoryOptionsFromConfig(cfg, logger.NewPionFactory(log)),
		log,
	)
	if err != nil {
		return err
	}

	var stream *ports.MediaStream
	if role == domain.RoleInitiator && flags.ivf != "" {
		src, err := webrtcinfra.NewIVFSource(flags.ivf, log)
		if err != nil {
			return err
		}
		stream = src.Stream()
		go func() {
			if err := src.Run(ctx); err != nil {
				log.Errorw("screen source stopped", "error", err)
			}
		}()
	}

	manager := connection.NewManager(client, factory, connection.ManagerOptions{
		Alias:              alias,
		NegotiationTimeout: cfg.WebRTC.NegotiationTimeout,
	}, log)
	defer manager.CloseAll(context.Background())

	session, err := manager.Open(ctx, room, role, stream)
	if err != nil {
		return err
	}

	connected := make(chan struct{}, 1)
	session.AddListener(listenerFor(role, log, connected))
	log.Infow("waiting for peer", "session_id", utils.FormatSessionID(string(room)))

	if role == domain.RoleReceiver && flags.demoInput {
		go sendDemoInput(ctx, session, connected, log)
	}

	<-ctx.Done()
	log.Info("leaving session")
	return nil
}

func listenerFor(role domain.Role, log *zap.SugaredLogger, connected chan<- struct{}) connection.Listener {
	cursor := &control.Cursor{}
	dispatcher := control.NewDispatcher(control.HandlerFuncs{
		MouseMove: func(m control.MouseMove) {
			cursor.OnMouseMove(m)
			if x, y, ok := cursor.Pixels(1920, 1080); ok {
				log.Debugw("cursor moved", "x", x, "y", y)
			}
		},
		Click: func(c control.Click) {
			pos, _ := cursor.Position()
			log.Infow("remote click", "button", c.Button.String(), "x", pos.X, "y", pos.Y)
		},
		Clipboard: func(c control.Clipboard) {
			log.Infow("remote clipboard", "bytes", len(c.Text))
		},
	}, log)

	return connection.ListenerFuncs{
		StateChange: func(s domain.ConnectionState) {
			log.Infow("session state", "state", s.String())
			if s == domain.StateConnected {
				select {
				case connected <- struct{}{}:
				default:
				}
			}
		},
		Stream: func(rs ports.RemoteStream) {
			if rs.Track == nil {
				return
			}
			log.Infow("receiving remote screen", "stream_id", rs.ID, "codec", rs.Track.Codec().MimeType)
			go func() {
				var last uint32
				n, err := webrtcinfra.Drain(rs.Track, func(p *rtp.Packet) { last = p.Timestamp })
				log.Infow("remote screen ended", "packets", n, "last_timestamp", last, "error", err)
			}()
		},
		Data: func(raw json.RawMessage) {
			if role == domain.RoleInitiator {
				dispatcher.Dispatch(raw)
			}
		},
	}
}

// sendDemoInput traces a circle with the pointer and clicks once per lap.
func sendDemoInput(ctx context.Context, session *connection.Session, connected <-chan struct{}, log *zap.SugaredLogger) {
	select {
	case <-ctx.Done():
		return
	case <-connected:
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for step := 0; ; step++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		angle := float64(step%100) / 100 * 2 * math.Pi
		var msg control.Message = control.MouseMove{X: 0.5 + 0.4*math.Cos(angle), Y: 0.5 + 0.4*math.Sin(angle)}
		if step%100 == 99 {
			msg = control.Click{Button: control.ButtonLeft}
		}
		if err := msg.Validate(); err != nil {
			log.Warnw("skipping invalid input", "error", err)
			continue
		}
		if err := session.SendData(msg); err != nil {
			log.Debugw("input not sent", "error", err)
		}
	}
}
