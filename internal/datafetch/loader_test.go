package datafetch

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type LoaderTestSuite struct {
	suite.Suite
}

func TestLoaderSuite(t *testing.T) {
	suite.Run(t, new(LoaderTestSuite))
}

func (s *LoaderTestSuite) writeCSV(rows [][]string) string {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "bars.csv")

	f, err := os.Create(path)
	require.NoError(s.T(), err)
	defer f.Close()

	w := csv.NewWriter(f)
	require.NoError(s.T(), w.WriteAll(rows))
	w.Flush()
	require.NoError(s.T(), w.Error())

	return path
}

func (s *LoaderTestSuite) TestLoadCSVHappyPath() {
	path := s.writeCSV([][]string{
		{"Timestamp", "Open", "High", "Low", "Close", "Volume"},
		{"2026-01-02T00:01:00Z", "10.0", "10.5", "9.5", "10.2", "1000"},
		{"2026-01-02T00:00:00Z", "9.8", "10.1", "9.7", "10.0", "900"},
	})

	bars, hash, err := LoadSnapshot(path)
	require.NoError(s.T(), err)
	s.Len(bars, 2)
	s.NotEmpty(hash)
	// sorted ascending despite input order.
	s.True(bars[0].Timestamp.Before(bars[1].Timestamp))
}

func (s *LoaderTestSuite) TestLoadCSVAcceptsLenientISO8601Timestamp() {
	path := s.writeCSV([][]string{
		{"timestamp", "open", "high", "low", "close", "volume"},
		{"20260102T000100+0000", "10.0", "10.5", "9.5", "10.2", "1000"},
	})

	bars, _, err := LoadSnapshot(path)
	require.NoError(s.T(), err)
	s.Require().Len(bars, 1)
	s.Equal(2026, bars[0].Timestamp.Year())
}

func (s *LoaderTestSuite) TestLoadCSVMissingColumnFails() {
	path := s.writeCSV([][]string{
		{"timestamp", "open", "high", "low", "close"},
		{"2026-01-02T00:00:00Z", "10.0", "10.5", "9.5", "10.2"},
	})

	_, _, err := LoadSnapshot(path)
	s.Error(err)
}

func (s *LoaderTestSuite) TestLoadUnsupportedExtensionFails() {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "bars.txt")
	require.NoError(s.T(), os.WriteFile(path, []byte("junk"), 0o644))

	_, _, err := LoadSnapshot(path)
	s.Error(err)
}

func (s *LoaderTestSuite) TestHashIsStableForIdenticalContent() {
	path := s.writeCSV([][]string{
		{"timestamp", "open", "high", "low", "close", "volume"},
		{"2026-01-02T00:00:00Z", "10.0", "10.5", "9.5", "10.2", "1000"},
	})

	_, hash1, err := LoadSnapshot(path)
	require.NoError(s.T(), err)

	_, hash2, err := LoadSnapshot(path)
	require.NoError(s.T(), err)

	s.Equal(hash1, hash2)
}
