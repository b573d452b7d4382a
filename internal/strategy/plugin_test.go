package strategy

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type PluginTestSuite struct {
	suite.Suite
}

func TestPluginSuite(t *testing.T) {
	suite.Run(t, new(PluginTestSuite))
}

func (s *PluginTestSuite) TestLoadWasmPluginMissingFile() {
	_, err := LoadWasmPlugin(context.Background(), filepath.Join(s.T().TempDir(), "missing.wasm"))
	require.Error(s.T(), err)
}

func (s *PluginTestSuite) TestLoadWasmPluginFromBytesInvalidModule() {
	_, err := LoadWasmPluginFromBytes(context.Background(), []byte("not a real wasm module"))
	require.Error(s.T(), err)
}
