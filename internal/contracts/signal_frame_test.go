package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaFingerprintStableUnderColumnReorder(t *testing.T) {
	s1 := SignalFrameSchema{
		StrategyID: "insidebar", StrategyTag: "v1", Version: "1.0.0",
		Columns: append(RequiredBaseColumns("AAPL", "M5"), RequiredGenericColumns()...),
	}

	cols := append([]ColumnSpec{}, s1.Columns...)
	cols[0], cols[len(cols)-1] = cols[len(cols)-1], cols[0]
	s2 := s1
	s2.Columns = cols

	assert.Equal(t, s1.Fingerprint(), s2.Fingerprint())
}

func TestSignalFrameValidateRejectsMutuallyExclusiveSignals(t *testing.T) {
	frame := SignalFrame{
		Rows: []SignalRow{
			{BoolSignals: map[string]bool{"sig_long": true, "sig_short": true}},
		},
	}

	err := frame.Validate()
	require.Error(t, err)
}

func TestSignalFrameValidateAcceptsConsistentSide(t *testing.T) {
	frame := SignalFrame{
		Rows: []SignalRow{
			{BoolSignals: map[string]bool{"sig_long": true, "sig_short": false}},
		},
	}

	require.NoError(t, frame.Validate())
}
