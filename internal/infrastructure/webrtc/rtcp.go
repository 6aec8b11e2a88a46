package webrtc

import (
	"errors"
	"io"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const rtpBufferSize = 1500

// readRTCP drains feedback for a sender so its interceptors keep running.
func readRTCP(sender *webrtc.RTPSender, logger *zap.SugaredLogger) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			switch p := pkt.(type) {
			case *rtcp.PictureLossIndication:
				logger.Debugw("viewer requested keyframe", "media_ssrc", p.MediaSSRC)
			case *rtcp.ReceiverReport:
				for _, r := range p.Reports {
					logger.Debugw("receiver report",
						"ssrc", r.SSRC,
						"fraction_lost", r.FractionLost,
						"total_lost", r.TotalLost,
						"jitter", r.Jitter,
					)
				}
			}
		}
	}
}

// Drain reads RTP from a remote track until it ends and returns the number
// of packets seen. onPacket may be nil.
func Drain(track *webrtc.TrackRemote, onPacket func(*rtp.Packet)) (int, error) {
	buf := make([]byte, rtpBufferSize)
	count := 0
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, err
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		count++
		if onPacket != nil {
			onPacket(pkt)
		}
	}
}
