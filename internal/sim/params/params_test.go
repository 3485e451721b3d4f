package params

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestLoadShippedConfigMatchesDefaults(t *testing.T) {
	p, err := Load(filepath.Join("..", "..", "..", "configs", "params.yaml"))
	require.NoError(t, err)
	require.Equal(t, Defaults(), p)
}

func TestParseEmptyKeepsDefaults(t *testing.T) {
	p, err := Parse([]byte("  \n"))
	require.NoError(t, err)
	require.Equal(t, Defaults(), p)
}

func TestParseOverridesOnlyGivenKeys(t *testing.T) {
	p, err := Parse([]byte(`
seed: 42
collateralization_rate: 0.5
gas_price_dist: {mean: 0.001}
`))
	require.NoError(t, err)
	require.Equal(t, int64(42), p.Seed)
	require.Equal(t, 0.5, p.CollateralizationRate)
	require.Equal(t, 0.001, p.GasPriceDist.Mean)
	require.Equal(t, Defaults().GasPriceDist.Std, p.GasPriceDist.Std)
	require.Equal(t, Defaults().NewUserInterval, p.NewUserInterval)
}

func TestParseTupleDistributions(t *testing.T) {
	p, err := Parse([]byte(`
gas_price_dist: [3, 0.5]
order_size_dist: [2, 20]
risk_tolerance_dist: [0.1, 0.3]
`))
	require.NoError(t, err)
	require.Equal(t, NormalDist{Mean: 3, Std: 0.5}, p.GasPriceDist)
	require.Equal(t, BetaDist{Alpha: 2, Beta: 20, Scale: 1}, p.OrderSizeDist)
	require.Equal(t, UniformDist{Min: 0.1, Max: 0.3}, p.RiskToleranceDist)
}

func TestParseRejectsUnknownKey(t *testing.T) {
	_, err := Parse([]byte("new_users_interval: 3\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "params schema")
}

func TestParseRejectsOutOfRange(t *testing.T) {
	cases := map[string]string{
		"negative rate":     "collateralization_rate: -1\n",
		"awareness above 1": "challenge_awareness_rate: 1.5\n",
		"zero interval":     "new_idea_interval: 0\n",
		"wrong type":        "ticks_per_year: fast\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	p := Defaults()
	p.OrderResubmitInterval = 20
	p.OrderTimeoutInterval = 10
	p.SlashingDistEnf = 0.8
	p.SlashingDistDAO = 0.4
	p.HistoryWindow = 2

	err := p.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"order_resubmit_interval", "slashing_dist_enf", "utilization_window", "price_window"} {
		require.True(t, strings.Contains(msg, want), "missing %q in %s", want, msg)
	}
}
