package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"teamdesk/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"go.uber.org/zap"
)

const screenStreamID = "teamdesk-screen"

// IVFSource loops an IVF file into a sample track. It stands in for screen
// capture on the host.
type IVFSource struct {
	path   string
	track  *webrtc.TrackLocalStaticSample
	frame  time.Duration
	logger *zap.SugaredLogger
}

func NewIVFSource(path string, logger *zap.SugaredLogger) (*IVFSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ivf: %w", err)
	}
	defer f.Close()

	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, fmt.Errorf("read ivf header: %w", err)
	}

	mime, err := mimeForFourCC(header.FourCC)
	if err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mime},
		"screen",
		screenStreamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create sample track: %w", err)
	}

	frame := 33 * time.Millisecond
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		frame = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}

	return &IVFSource{path: path, track: track, frame: frame, logger: logger}, nil
}

func mimeForFourCC(fourCC string) (string, error) {
	switch fourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	case "AV01":
		return webrtc.MimeTypeAV1, nil
	}
	return "", fmt.Errorf("unsupported ivf codec %q", fourCC)
}

func (s *IVFSource) Stream() *ports.MediaStream {
	return &ports.MediaStream{ID: screenStreamID, Tracks: []webrtc.TrackLocal{s.track}}
}

func (s *IVFSource) FrameDuration() time.Duration { return s.frame }

// Run writes frames at the file's frame rate, rewinding at EOF, until ctx
// is done.
func (s *IVFSource) Run(ctx context.Context) error {
	for {
		if err := s.playOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		s.logger.Debugw("ivf source looped", "path", s.path)
	}
}

func (s *IVFSource) playOnce(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open ivf: %w", err)
	}
	defer f.Close()

	reader, _, err := ivfreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("read ivf header: %w", err)
	}

	ticker := time.NewTicker(s.frame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ivf frame: %w", err)
		}
		if err := s.track.WriteSample(media.Sample{Data: frame, Duration: s.frame}); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}
}
