package webrtc

import (
	"fmt"

	"teamdesk/internal/core/ports"
	"teamdesk/pkg/config"

	"github.com/pion/logging"
	"github.com/pion/transport/v2"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const DefaultDataChannelLabel = "control"

type FactoryOptions struct {
	ICEServers       []webrtc.ICEServer
	PortMin, PortMax uint16
	DataChannelLabel string
	LoggerFactory    logging.LoggerFactory
	// Net replaces the host network, used with a vnet in tests.
	Net transport.Net
}

func FactoryOptionsFromConfig(cfg *config.Config, lf logging.LoggerFactory) FactoryOptions {
	servers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}
	return FactoryOptions{
		ICEServers:       servers,
		PortMin:          cfg.WebRTC.PortRange.Min,
		PortMax:          cfg.WebRTC.PortRange.Max,
		DataChannelLabel: cfg.WebRTC.DataChannelLabel,
		LoggerFactory:    lf,
	}
}

// PeerFactory builds pion-backed peers that share one API instance.
type PeerFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
	label  string
	logger *zap.SugaredLogger
}

var _ ports.PeerFactory = (*PeerFactory)(nil)

func NewPeerFactory(opts FactoryOptions, logger *zap.SugaredLogger) (*PeerFactory, error) {
	se := webrtc.SettingEngine{}
	if opts.PortMin > 0 && opts.PortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(opts.PortMin, opts.PortMax); err != nil {
			return nil, fmt.Errorf("set udp port range: %w", err)
		}
	}
	if opts.LoggerFactory != nil {
		se.LoggerFactory = opts.LoggerFactory
	}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}

	label := opts.DataChannelLabel
	if label == "" {
		label = DefaultDataChannelLabel
	}

	return &PeerFactory{
		api: webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		config: webrtc.Configuration{
			ICEServers:   opts.ICEServers,
			SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
		},
		label:  label,
		logger: logger,
	}, nil
}

func (f *PeerFactory) NewPeer(opts ports.PeerOptions, events ports.PeerEvents) (ports.Peer, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	p := &Peer{
		pc:        pc,
		initiator: opts.Initiator,
		label:     f.label,
		events:    events,
		logger:    f.logger.With("initiator", opts.Initiator),
	}
	if err := p.setup(opts.Stream); err != nil {
		_ = pc.Close()
		return nil, err
	}
	return p, nil
}
