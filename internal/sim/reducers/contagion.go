package reducers

import (
	"strings"

	"statecraft.ai/internal/sim/audit"
	"statecraft.ai/internal/sim/state"
)

// FireSale widens every spread when the average Tier-1 ratio across the
// world drops below the threshold, and reprices yields off the new spread.
func FireSale(g *state.GlobalState, env WorldEnv, rec *audit.Recorder) error {
	f := g.Rules.Regimes.Finance
	codes := g.CountryCodes()
	var sum float64
	n := 0
	for _, code := range codes {
		if c := g.Countries[code]; c != nil {
			sum += c.Finance.BankTier1Ratio
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	if avg >= f.FireSaleTier1Threshold {
		return nil
	}
	w := newWriter(rec, string(state.ReducerFireSale), audit.Params{
		"tier1_threshold": f.FireSaleTier1Threshold,
		"spread_widening": f.FireSaleSpreadWidening,
	})
	for _, code := range codes {
		c := g.Countries[code]
		if c == nil {
			continue
		}
		details := audit.Params{"average_tier1": avg}
		if err := w.set(code, "finance.credit_spread", &c.Finance.CreditSpread, c.Finance.CreditSpread+f.FireSaleSpreadWidening, details); err != nil {
			return err
		}
		if err := w.set(code, "finance.sovereign_yield", &c.Finance.SovereignYield, c.Macro.PolicyRate+c.Finance.CreditSpread, audit.Params{
			"average_tier1": avg,
			"policy_rate":   c.Macro.PolicyRate,
			"credit_spread": c.Finance.CreditSpread,
		}); err != nil {
			return err
		}
	}
	return nil
}

// StressedCountries lists the countries whose yield exceeds the policy rate
// by more than the stress threshold, in sorted order.
func StressedCountries(g *state.GlobalState) []string {
	thr := g.Rules.Regimes.Finance.StressSpreadThreshold
	var out []string
	for _, code := range g.CountryCodes() {
		c := g.Countries[code]
		if c != nil && c.Finance.SovereignYield-c.Macro.PolicyRate > thr {
			out = append(out, code)
		}
	}
	return out
}

// InterbankLoss haircuts every lender's Tier-1 ratio by loss-given-default
// times its exposure to stressed borrowers. Stress is decided once, before
// any loss is booked.
func InterbankLoss(g *state.GlobalState, env WorldEnv, rec *audit.Recorder) error {
	f := g.Rules.Regimes.Finance
	stressed := StressedCountries(g)
	if len(stressed) == 0 {
		return nil
	}
	w := newWriter(rec, string(state.ReducerInterbankLoss), audit.Params{
		"loss_given_default":      f.LossGivenDefault,
		"stress_spread_threshold": f.StressSpreadThreshold,
	})
	for _, lender := range g.CountryCodes() {
		c := g.Countries[lender]
		if c == nil {
			continue
		}
		var exposure float64
		var hit []string
		for _, b := range stressed {
			if b == lender {
				continue
			}
			if e := g.Interbank.Weight(lender, b); e != 0 {
				exposure += e
				hit = append(hit, b)
			}
		}
		if exposure == 0 {
			continue
		}
		loss := f.LossGivenDefault * exposure
		next := c.Finance.BankTier1Ratio - loss
		if next < 0 {
			next = 0
		}
		if err := w.set(lender, "finance.bank_tier1_ratio", &c.Finance.BankTier1Ratio, next, audit.Params{
			"exposure":  exposure,
			"loss":      loss,
			"borrowers": strings.Join(hit, ","),
		}); err != nil {
			return err
		}
	}
	return nil
}
