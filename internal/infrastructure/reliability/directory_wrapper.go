package reliability

import (
	"context"
	"errors"

	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/ports"
	"teamdesk/pkg/circuitbreaker"
	"teamdesk/pkg/retry"

	"go.uber.org/zap"
)

// DirectoryWrapper guards a RoomDirectory with retries and a circuit
// breaker so a Redis outage degrades room stats without slowing signaling.
type DirectoryWrapper struct {
	directory      ports.RoomDirectory
	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
	logger         *zap.SugaredLogger
}

var _ ports.RoomDirectory = (*DirectoryWrapper)(nil)

func NewDirectoryWrapper(
	directory ports.RoomDirectory,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *DirectoryWrapper {
	w := &DirectoryWrapper{
		directory:      directory,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
		logger:         logger,
	}

	w.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("room directory circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})
	return w
}

func (w *DirectoryWrapper) Register(ctx context.Context, room domain.RoomID, endpoint domain.EndpointID) error {
	return w.execute(ctx, func() error {
		return w.directory.Register(ctx, room, endpoint)
	})
}

func (w *DirectoryWrapper) Unregister(ctx context.Context, room domain.RoomID, endpoint domain.EndpointID) error {
	return w.execute(ctx, func() error {
		return w.directory.Unregister(ctx, room, endpoint)
	})
}

func (w *DirectoryWrapper) Count(ctx context.Context, room domain.RoomID) (int, error) {
	var n int
	err := w.execute(ctx, func() error {
		var err error
		n, err = w.directory.Count(ctx, room)
		return err
	})
	return n, err
}

func (w *DirectoryWrapper) State() circuitbreaker.State {
	return w.circuitBreaker.GetState()
}

func (w *DirectoryWrapper) execute(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, w.retryConfig, func() error {
		err := w.circuitBreaker.Execute(ctx, fn)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return retry.Permanent(err)
		}
		return err
	})
}
