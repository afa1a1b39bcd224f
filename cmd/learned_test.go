// cmd/learned_test.go
package cmd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
	"github.com/xkilldash9x/gauntlet-cli/internal/mocks"
)

func TestLearnedCmd_Show(t *testing.T) {
	store := new(mocks.MockStore)
	store.On("Load", mock.Anything).Return(map[int]engine.Source{
		12: engine.SourceDOM,
		3:  engine.SourceStorage,
	}, nil)
	store.On("Close").Return(nil)
	provider := &memProvider{store: store}
	root := newRootCommand(&fakeLauncher{}, provider)

	out, err := executeCommand(t, root, "learned", "show", "--dir", "out/run_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"out/run_1"}, provider.dirs)
	assert.Regexp(t, `(?s)STAGE\s+SOURCE\n3\s+storage\n12\s+dom\n`, out)
	store.AssertExpectations(t)
}

func TestLearnedCmd_ShowEmpty(t *testing.T) {
	store := new(mocks.MockStore)
	store.On("Load", mock.Anything).Return(nil, nil)
	store.On("Close").Return(nil)
	root := newRootCommand(&fakeLauncher{}, &memProvider{store: store})

	out, err := executeCommand(t, root, "learned", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing learned yet.")
}

func TestLearnedCmd_ShowLoadError(t *testing.T) {
	store := new(mocks.MockStore)
	store.On("Load", mock.Anything).Return(nil, errors.New("connection refused"))
	store.On("Close").Return(nil)
	root := newRootCommand(&fakeLauncher{}, &memProvider{store: store})

	_, err := executeCommand(t, root, "learned", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	store.AssertCalled(t, "Close")
}

func TestLearnedCmd_Reset(t *testing.T) {
	store := new(mocks.MockStore)
	store.On("Reset", mock.Anything).Return(nil).Once()
	store.On("Close").Return(nil)
	root := newRootCommand(&fakeLauncher{}, &memProvider{store: store})

	out, err := executeCommand(t, root, "learned", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Learned sources cleared.")
	store.AssertExpectations(t)
}

func TestPrintLearned(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printLearned(&buf, map[int]engine.Source{30: engine.SourceNetworkCache}))
	assert.Regexp(t, `30\s+network`, buf.String())
}
