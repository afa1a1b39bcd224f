// internal/mocks/mocks_test.go
package mocks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/gauntlet-cli/internal/config"
	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
)

func TestMockStore(t *testing.T) {
	m := new(MockStore)
	ctx := context.Background()
	m.On("Load", ctx).Return(nil, errors.New("down")).Once()
	m.On("Load", ctx).Return(map[int]engine.Source{4: engine.SourceDOM}, nil).Once()
	m.On("Save", ctx, mock.Anything).Return(nil)

	got, err := m.Load(ctx)
	assert.Error(t, err)
	assert.Nil(t, got)

	got, err = m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.SourceDOM, got[4])
	assert.NoError(t, m.Save(ctx, got))
	m.AssertExpectations(t)
}

func TestMockConfig(t *testing.T) {
	m := new(MockConfig)
	m.On("Learned").Return(config.LearnedConfig{Backend: config.LearnedBackendPostgres})
	m.On("SetRunURL", "https://challenge.test/").Return()

	assert.Equal(t, config.LearnedBackendPostgres, m.Learned().Backend)
	m.SetRunURL("https://challenge.test/")
	m.AssertExpectations(t)
}
