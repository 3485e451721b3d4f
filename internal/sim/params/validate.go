package params

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed params.schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("params.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

// validateSchema checks a decoded yaml document. The document goes through a
// json round trip first so the validator only sees json-native values.
func validateSchema(doc any) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile params schema: %w", err)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("params document: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("params document: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("params schema: %w", err)
	}
	return nil
}

// Validate reports every cross-field problem at once.
func (p Params) Validate() error {
	var errs *multierror.Error
	fail := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	if p.OrderResubmitInterval >= p.OrderTimeoutInterval {
		fail("order_resubmit_interval (%d) must be below order_timeout_interval (%d)", p.OrderResubmitInterval, p.OrderTimeoutInterval)
	}
	if p.SlashingDistEnf+p.SlashingDistDAO > 1 {
		fail("slashing_dist_enf + slashing_dist_dao = %g exceeds 1", p.SlashingDistEnf+p.SlashingDistDAO)
	}
	if p.ShrinkThreshold > p.ExpandThreshold {
		fail("shrink_threshold (%g) above expand_threshold (%g)", p.ShrinkThreshold, p.ExpandThreshold)
	}
	if p.InitialCohort > p.MaxCohort {
		fail("initial_cohort (%d) above max_cohort (%d)", p.InitialCohort, p.MaxCohort)
	}
	if p.HistoryWindow < p.UtilizationWindow {
		fail("history_window (%d) shorter than utilization_window (%d)", p.HistoryWindow, p.UtilizationWindow)
	}
	if p.HistoryWindow < p.PriceWindow {
		fail("history_window (%d) shorter than price_window (%d)", p.HistoryWindow, p.PriceWindow)
	}
	if p.RiskToleranceDist.Min > p.RiskToleranceDist.Max {
		fail("risk_tolerance_dist: min above max")
	}
	if p.OrderSizeDist.Alpha <= 0 || p.OrderSizeDist.Beta <= 0 {
		fail("order_size_dist: alpha and beta must be positive")
	}
	if p.StoragePriceDiscountDist.Alpha <= 0 || p.StoragePriceDiscountDist.Beta <= 0 {
		fail("storage_price_discount_dist: alpha and beta must be positive")
	}
	normals := []struct {
		name string
		d    NormalDist
	}{
		{"user_init_balance_dist", p.UserInitBalanceDist},
		{"user_init_fiat_dist", p.UserInitFiatDist},
		{"stinginess_dist", p.StinginessDist},
		{"ux_tolerance_dist", p.UXToleranceDist},
		{"contract_duration_dist", p.ContractDurationDist},
		{"provider_init_balance_dist", p.ProviderInitBalanceDist},
		{"gas_price_dist", p.GasPriceDist},
	}
	for _, n := range normals {
		if n.d.Std < 0 {
			fail("%s: negative std", n.name)
		}
	}
	if p.ProviderInitStorageDist.Sigma < 0 {
		fail("provider_init_storage_dist: negative sigma")
	}
	if p.MinTokenPrice > p.InitTokenPrice {
		fail("min_token_price (%g) above init_token_price (%g)", p.MinTokenPrice, p.InitTokenPrice)
	}

	return errs.ErrorOrNil()
}
