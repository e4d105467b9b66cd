package session

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/mossy-p/conference-signaling/config"
	"github.com/mossy-p/conference-signaling/internal/models"
)

// Compile-time interface checks.
var (
	_ EngineFactory = (*PionFactory)(nil)
	_ Engine        = (*pionEngine)(nil)
	_ Track         = (*webrtc.TrackRemote)(nil)
)

// PionFactory creates receive-only peer connections backed by pion.
type PionFactory struct {
	api           *webrtc.API
	configuration webrtc.Configuration
	logger        zerolog.Logger
}

// ICEServers converts the configured STUN and TURN URLs.
func ICEServers(cfg config.ICEConfig) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(cfg.STUNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.STUNURLs})
	}
	if len(cfg.TURNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       cfg.TURNURLs,
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNCredential,
		})
	}
	return servers
}

// NewPionFactory registers the default codecs and interceptors plus a
// periodic PLI sender so inbound video recovers quickly from loss.
func NewPionFactory(iceServers []webrtc.ICEServer, logger zerolog.Logger) (*PionFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create pli interceptor: %w", err)
	}
	i.Add(pli)

	return &PionFactory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(i),
		),
		configuration: webrtc.Configuration{ICEServers: iceServers},
		logger:        logger.With().Str("component", "engine").Logger(),
	}, nil
}

// NewEngine creates a peer connection with one recvonly video and audio
// transceiver and a "<slot>_data" echo channel.
func (f *PionFactory) NewEngine(slot models.SlotName, observer Observer) (Engine, error) {
	log := f.logger.With().Str("slot", string(slot)).Logger()

	pc, err := f.api.NewPeerConnection(f.configuration)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	dc, err := pc.CreateDataChannel(string(slot)+"_data", nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	dc.OnOpen(func() {
		log.Debug().Msg("data channel opened")
		if err := dc.SendText("Welcome to mirror session for " + string(slot)); err != nil {
			log.Warn().Err(err).Msg("data channel greeting")
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if err := dc.SendText("Echo: " + string(msg.Data)); err != nil {
			log.Warn().Err(err).Msg("data channel echo")
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Info().Str("state", state.String()).Msg("peer connection state")
		observer.OnConnectionStateChange(slot, state)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateFailed {
			log.Warn().Msg("ICE connection failed, likely a NAT or firewall issue")
			return
		}
		log.Debug().Str("state", state.String()).Msg("ICE connection state")
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			observer.OnICECandidate(slot, nil)
			return
		}
		init := c.ToJSON()
		observer.OnICECandidate(slot, &init)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		codec := track.Codec()
		log.Info().Str("kind", track.Kind().String()).Str("codec", codec.MimeType).Msg("track received")
		observer.OnTrack(slot, track)
	})

	return &pionEngine{pc: pc, dc: dc}, nil
}

type pionEngine struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel
}

func (e *pionEngine) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return offer, nil
}

func (e *pionEngine) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := e.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (e *pionEngine) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if err := e.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (e *pionEngine) Close() error {
	if e.dc != nil {
		_ = e.dc.Close()
	}
	return e.pc.Close()
}
