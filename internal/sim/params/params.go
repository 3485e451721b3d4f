package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Params is the configuration surface of a simulation run. Every field maps to
// one yaml key; keys missing from the file keep their Defaults() value.
type Params struct {
	Seed               int64 `yaml:"seed" json:"seed"`
	Ticks              int   `yaml:"ticks" json:"ticks"`
	HistoryWindow      int   `yaml:"history_window" json:"history_window"`
	SnapshotEveryTicks int   `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks"`
	CheckInvariants    bool  `yaml:"check_invariants" json:"check_invariants"`

	// Buyers.
	NewUserInterval       int        `yaml:"new_user_interval" json:"new_user_interval"`
	InitialCohort         int        `yaml:"initial_cohort" json:"initial_cohort"`
	MaxCohort             int        `yaml:"max_cohort" json:"max_cohort"`
	NewIdeaInterval       int        `yaml:"new_idea_interval" json:"new_idea_interval"`
	UserInitBalanceDist   NormalDist `yaml:"user_init_balance_dist" json:"user_init_balance_dist"`
	UserInitFiatDist      NormalDist `yaml:"user_init_fiat_dist" json:"user_init_fiat_dist"`
	StinginessDist        NormalDist `yaml:"stinginess_dist" json:"stinginess_dist"`
	UXToleranceDist       NormalDist `yaml:"ux_tolerance_dist" json:"ux_tolerance_dist"`
	OrderSizeDist         BetaDist   `yaml:"order_size_dist" json:"order_size_dist"`
	ContractDurationDist  NormalDist `yaml:"contract_duration_dist" json:"contract_duration_dist"`
	ChallengesPerContract int        `yaml:"challenges_per_contract" json:"challenges_per_contract"`
	OrderResubmitInterval int        `yaml:"order_resubmit_interval" json:"order_resubmit_interval"`
	OrderTimeoutInterval  int        `yaml:"order_timeout_interval" json:"order_timeout_interval"`
	HaggleResolution      float64    `yaml:"haggle_resolution" json:"haggle_resolution"`
	GrantPortion          float64    `yaml:"grant_portion" json:"grant_portion"`
	GrantMax              float64    `yaml:"grant_max" json:"grant_max"`

	// Providers.
	NewProviderInterval      int           `yaml:"new_provider_interval" json:"new_provider_interval"`
	ProviderInitStorageDist  LogNormalDist `yaml:"provider_init_storage_dist" json:"provider_init_storage_dist"`
	ProviderInitBalanceDist  NormalDist    `yaml:"provider_init_balance_dist" json:"provider_init_balance_dist"`
	StoragePriceDiscountDist BetaDist      `yaml:"storage_price_discount_dist" json:"storage_price_discount_dist"`
	RiskToleranceDist        UniformDist   `yaml:"risk_tolerance_dist" json:"risk_tolerance_dist"`
	ProviderResizeRate       float64       `yaml:"provider_resize_rate" json:"provider_resize_rate"`
	ProviderTimeout          int           `yaml:"provider_timeout" json:"provider_timeout"`
	UtilizationWindow        int           `yaml:"utilization_window" json:"utilization_window"`
	ExpandThreshold          float64       `yaml:"expand_threshold" json:"expand_threshold"`
	ShrinkThreshold          float64       `yaml:"shrink_threshold" json:"shrink_threshold"`
	MinCapacity              float64       `yaml:"min_capacity" json:"min_capacity"`
	FeeScaleUnit             float64       `yaml:"fee_scale_unit" json:"fee_scale_unit"`
	CollateralizationRate    float64       `yaml:"collateralization_rate" json:"collateralization_rate"`
	TreasuryInitBalance      float64       `yaml:"treasury_init_balance" json:"treasury_init_balance"`
	TreasuryCapacity         float64       `yaml:"treasury_capacity" json:"treasury_capacity"`
	ProviderSellFraction     float64       `yaml:"provider_sell_fraction" json:"provider_sell_fraction"`
	BuyerBuyFraction         float64       `yaml:"buyer_buy_fraction" json:"buyer_buy_fraction"`
	TokenTradeRate           float64       `yaml:"token_trade_rate" json:"token_trade_rate"`

	// Challenges.
	ChallengeAwarenessRate float64 `yaml:"challenge_awareness_rate" json:"challenge_awareness_rate"`
	SlashingDistEnf        float64 `yaml:"slashing_dist_enf" json:"slashing_dist_enf"`
	SlashingDistDAO        float64 `yaml:"slashing_dist_dao" json:"slashing_dist_dao"`

	// Market.
	BaseStoragePrice    float64    `yaml:"base_storage_price" json:"base_storage_price"`
	DBiyearStoragePrice float64    `yaml:"d_biyear_storage_price" json:"d_biyear_storage_price"`
	TicksPerYear        int        `yaml:"ticks_per_year" json:"ticks_per_year"`
	GasPriceDist        NormalDist `yaml:"gas_price_dist" json:"gas_price_dist"`
	MinGasPrice         float64    `yaml:"min_gas_price" json:"min_gas_price"`
	InitTokenPrice      float64    `yaml:"init_token_price" json:"init_token_price"`
	TokenVolatility     float64    `yaml:"token_volatility" json:"token_volatility"`
	MinTokenPrice       float64    `yaml:"min_token_price" json:"min_token_price"`
	PriceWindow         int        `yaml:"price_window" json:"price_window"`
	TokenAuction        bool       `yaml:"token_auction" json:"token_auction"`
	TokenSpread         float64    `yaml:"token_spread" json:"token_spread"`
	TokenBucketWidth    float64    `yaml:"token_bucket_width" json:"token_bucket_width"`
}

func Defaults() Params {
	return Params{
		Seed:               1,
		Ticks:              1024,
		HistoryWindow:      64,
		SnapshotEveryTicks: 256,
		CheckInvariants:    true,

		NewUserInterval:       30,
		InitialCohort:         1,
		MaxCohort:             64,
		NewIdeaInterval:       10,
		UserInitBalanceDist:   NormalDist{Mean: 10, Std: 3},
		UserInitFiatDist:      NormalDist{Mean: 50, Std: 10},
		StinginessDist:        NormalDist{Mean: 1.1, Std: 0.3},
		UXToleranceDist:       NormalDist{Mean: 0.5, Std: 0.15},
		OrderSizeDist:         BetaDist{Alpha: 2, Beta: 20, Scale: 100},
		ContractDurationDist:  NormalDist{Mean: 64, Std: 16},
		ChallengesPerContract: 4,
		OrderResubmitInterval: 3,
		OrderTimeoutInterval:  12,
		HaggleResolution:      0.0001,
		GrantPortion:          0.05,
		GrantMax:              10,

		NewProviderInterval:      20,
		ProviderInitStorageDist:  LogNormalDist{Mu: 6, Sigma: 1},
		ProviderInitBalanceDist:  NormalDist{Mean: 500, Std: 100},
		StoragePriceDiscountDist: BetaDist{Alpha: 2, Beta: 5, Scale: 1},
		RiskToleranceDist:        UniformDist{Min: 0, Max: 0.2},
		ProviderResizeRate:       0.1,
		ProviderTimeout:          30,
		UtilizationWindow:        16,
		ExpandThreshold:          0.8,
		ShrinkThreshold:          0.2,
		MinCapacity:              1,
		FeeScaleUnit:             1024,
		CollateralizationRate:    1,
		TreasuryInitBalance:      1000,
		TreasuryCapacity:         102400,
		ProviderSellFraction:     0.05,
		BuyerBuyFraction:         0.05,
		TokenTradeRate:           0.5,

		ChallengeAwarenessRate: 0.1,
		SlashingDistEnf:        0.5,
		SlashingDistDAO:        0.25,

		BaseStoragePrice:    0.00020866669,
		DBiyearStoragePrice: 0.5,
		TicksPerYear:        128,
		GasPriceDist:        NormalDist{Mean: 0.00002, Std: 0.000005},
		MinGasPrice:         0,
		InitTokenPrice:      1,
		TokenVolatility:     0.02,
		MinTokenPrice:       0.0001,
		PriceWindow:         8,
		TokenAuction:        true,
		TokenSpread:         0.05,
		TokenBucketWidth:    0.01,
	}
}

// Load reads a params yaml file on top of Defaults(), checks it against the
// embedded schema and validates the result.
func Load(path string) (Params, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Params{}, err
	}
	p, err := Parse(raw)
	if err != nil {
		return p, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func Parse(raw []byte) (Params, error) {
	p := Defaults()
	if len(bytes.TrimSpace(raw)) == 0 {
		return p, nil
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return p, fmt.Errorf("params yaml: %w", err)
	}
	if err := validateSchema(doc); err != nil {
		return p, err
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("params yaml: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// JSON is the canonical encoding of the applied values, recorded next to
// every run so results can be matched to their configuration.
func (p Params) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}
