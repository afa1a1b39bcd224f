// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/gauntlet-cli/internal/config"
	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Run() config.RunConfig {
	args := m.Called()
	return args.Get(0).(config.RunConfig)
}

func (m *MockConfig) Learned() config.LearnedConfig {
	args := m.Called()
	return args.Get(0).(config.LearnedConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Escalation() config.EscalationConfig {
	args := m.Called()
	return args.Get(0).(config.EscalationConfig)
}

func (m *MockConfig) Report() config.ReportConfig {
	args := m.Called()
	return args.Get(0).(config.ReportConfig)
}

// --- Setters ---

func (m *MockConfig) SetRunURL(u string)              { m.Called(u) }
func (m *MockConfig) SetRunOutputDir(d string)        { m.Called(d) }
func (m *MockConfig) SetRunTimeout(d time.Duration)   { m.Called(d) }
func (m *MockConfig) SetRunContinueOnError(b bool)    { m.Called(b) }
func (m *MockConfig) SetRunIterations(n int)          { m.Called(n) }
func (m *MockConfig) SetRunUntilSuccess(b bool)       { m.Called(b) }
func (m *MockConfig) SetBrowserHeadless(b bool)       { m.Called(b) }
func (m *MockConfig) SetBrowserBlockResources(b bool) { m.Called(b) }
func (m *MockConfig) SetEscalationEnabled(b bool)     { m.Called(b) }
func (m *MockConfig) SetReportFormat(f string)        { m.Called(f) }
func (m *MockConfig) SetReportOutput(p string)        { m.Called(p) }

var _ config.Interface = (*MockConfig)(nil)

// -- Learned Store Mock --

// MockStore mocks learned.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Load(ctx context.Context) (map[int]engine.Source, error) {
	args := m.Called(ctx)
	var methods map[int]engine.Source
	if v := args.Get(0); v != nil {
		methods = v.(map[int]engine.Source)
	}
	return methods, args.Error(1)
}

func (m *MockStore) Save(ctx context.Context, methods map[int]engine.Source) error {
	args := m.Called(ctx, methods)
	return args.Error(0)
}

func (m *MockStore) Reset(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
