package harness

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGoldenTimeTravelAudit(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/time-travel-audit.yaml")
	require.NoError(t, err)
	require.NoError(t, RunWithGolden(t, scenario))
}
