package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"teamdesk/internal/core/domain"
	"teamdesk/pkg/circuitbreaker"
	"teamdesk/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockDirectory struct{ mock.Mock }

func (m *MockDirectory) Register(ctx context.Context, room domain.RoomID, ep domain.EndpointID) error {
	return m.Called(room, ep).Error(0)
}

func (m *MockDirectory) Unregister(ctx context.Context, room domain.RoomID, ep domain.EndpointID) error {
	return m.Called(room, ep).Error(0)
}

func (m *MockDirectory) Count(ctx context.Context, room domain.RoomID) (int, error) {
	args := m.Called(room)
	return args.Int(0), args.Error(1)
}

var errRedis = errors.New("i/o timeout")

func newWrapper(dir *MockDirectory) *DirectoryWrapper {
	return NewDirectoryWrapper(dir,
		retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		circuitbreaker.Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Hour, MaxRequestsHalfOpen: 1},
		zap.NewNop().Sugar(),
	)
}

func TestDirectoryWrapper_RetriesTransientFailure(t *testing.T) {
	dir := &MockDirectory{}
	dir.On("Register", domain.RoomID("r"), domain.EndpointID("a")).Return(errRedis).Once()
	dir.On("Register", domain.RoomID("r"), domain.EndpointID("a")).Return(nil).Once()

	w := newWrapper(dir)
	require.NoError(t, w.Register(context.Background(), "r", "a"))
	dir.AssertNumberOfCalls(t, "Register", 2)
	assert.Equal(t, circuitbreaker.StateClosed, w.State())
}

func TestDirectoryWrapper_OpenBreakerFailsFast(t *testing.T) {
	dir := &MockDirectory{}
	dir.On("Unregister", mock.Anything, mock.Anything).Return(errRedis)

	w := newWrapper(dir)
	err := w.Unregister(context.Background(), "r", "a")
	assert.ErrorIs(t, err, errRedis)
	assert.Equal(t, circuitbreaker.StateOpen, w.State())
	dir.AssertNumberOfCalls(t, "Unregister", 3)

	err = w.Unregister(context.Background(), "r", "a")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	dir.AssertNumberOfCalls(t, "Unregister", 3)
}

func TestDirectoryWrapper_Count(t *testing.T) {
	dir := &MockDirectory{}
	dir.On("Count", domain.RoomID("r")).Return(2, nil)

	n, err := newWrapper(dir).Count(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
