package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"thread-sync/internal/blob"
	"thread-sync/internal/remote"
	"thread-sync/internal/repositories"
)

type ChannelMock struct {
	mock.Mock
}

func (m *ChannelMock) Subscribe(ctx context.Context, scope remote.Scope, onEvent func(remote.Event), onError func(error)) (remote.Subscription, error) {
	args := m.Called(ctx, scope, onEvent, onError)
	var sub remote.Subscription
	if val := args.Get(0); val != nil {
		sub = val.(remote.Subscription)
	}
	return sub, args.Error(1)
}

func (m *ChannelMock) WriteOnce(ctx context.Context, collection remote.Collection, id string, fields map[string]any) error {
	args := m.Called(ctx, collection, id, fields)
	return args.Error(0)
}

type SubscriptionMock struct {
	mock.Mock
}

func (m *SubscriptionMock) Unsubscribe() {
	m.Called()
}

type GateRepositoryMock struct {
	mock.Mock
}

func (m *GateRepositoryMock) GetHash(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *GateRepositoryMock) SaveHash(ctx context.Context, userID, hash string) error {
	args := m.Called(ctx, userID, hash)
	return args.Error(0)
}

type UploaderMock struct {
	mock.Mock
}

func (m *UploaderMock) Upload(ctx context.Context, data []byte, path string) (string, error) {
	args := m.Called(ctx, data, path)
	return args.String(0), args.Error(1)
}

var _ remote.Channel = (*ChannelMock)(nil)
var _ remote.Subscription = (*SubscriptionMock)(nil)
var _ repositories.GateRepository = (*GateRepositoryMock)(nil)
var _ blob.Uploader = (*UploaderMock)(nil)
