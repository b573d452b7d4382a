package strategy

import (
	"encoding/json"
	"testing"

	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakePlugin struct{}

func (fakePlugin) GetSchema(version string) (contracts.SignalFrameSchema, error) {
	return contracts.SignalFrameSchema{StrategyID: "fake", Version: version}, nil
}

func (fakePlugin) ExtendSignalFrame(bars []contracts.OHLCV, params json.RawMessage) (contracts.SignalFrame, error) {
	return contracts.SignalFrame{}, nil
}

type RegistryTestSuite struct {
	suite.Suite
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}

func (s *RegistryTestSuite) TestRegisterAndResolve() {
	r := NewRegistry()
	r.Register("fake", "v1", fakePlugin{})

	plugin, err := r.Resolve("fake", "v1")
	require.NoError(s.T(), err)
	s.NotNil(plugin)
}

func (s *RegistryTestSuite) TestResolveUnknownStrategy() {
	r := NewRegistry()
	_, err := r.Resolve("missing", "v1")
	s.Error(err)
}

func (s *RegistryTestSuite) TestResolveMissingVersion() {
	r := NewRegistry()
	r.Register("fake", "v1", fakePlugin{})

	_, err := r.Resolve("fake", "v2")
	s.Error(err)
}

func (s *RegistryTestSuite) TestIDsListsRegisteredStrategies() {
	r := NewRegistry()
	r.Register("fake", "v1", fakePlugin{})
	s.Contains(r.IDs(), "fake")
}

func (s *RegistryTestSuite) TestResolveConstraintPicksHighestMatchingVersion() {
	r := NewRegistry()
	r.Register("fake", "1.0.0", fakePlugin{})
	r.Register("fake", "1.2.0", fakePlugin{})
	r.Register("fake", "2.0.0", fakePlugin{})

	_, version, err := r.ResolveConstraint("fake", "^1.0.0")
	require.NoError(s.T(), err)
	s.Equal("1.2.0", version)
}

func (s *RegistryTestSuite) TestResolveConstraintNoMatchingVersion() {
	r := NewRegistry()
	r.Register("fake", "1.0.0", fakePlugin{})

	_, _, err := r.ResolveConstraint("fake", "^2.0.0")
	s.Error(err)
}

func (s *RegistryTestSuite) TestResolveConstraintInvalidConstraint() {
	r := NewRegistry()
	r.Register("fake", "1.0.0", fakePlugin{})

	_, _, err := r.ResolveConstraint("fake", "not-a-constraint")
	s.Error(err)
}

func (s *RegistryTestSuite) TestResolveConstraintUnknownStrategy() {
	r := NewRegistry()
	_, _, err := r.ResolveConstraint("missing", "^1.0.0")
	s.Error(err)
}
