package proforma

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"proforma/period"
)

// The YAML deal format. Amounts are plain numbers in deal currency,
// rates and shares are fractions (0.08 is 8%). Domain types are built
// and validated only after the raw document parses.

// DealConfig is the on-disk representation of a deal.
type DealConfig struct {
	Name          string            `yaml:"name"`
	AssetID       string            `yaml:"asset_id"`
	Timeline      TimelineConfig    `yaml:"timeline"`
	PropertyValue float64           `yaml:"property_value"`
	TotalCost     float64           `yaml:"total_cost"`
	NOI           SeriesConfig      `yaml:"noi"`
	CapitalUses   SeriesConfig      `yaml:"capital_uses"`
	Facilities    []FacilityConfig  `yaml:"facilities"`
	Partnership   PartnershipConfig `yaml:"partnership"`
}

// TimelineConfig is a start period plus a duration in months.
type TimelineConfig struct {
	Start  period.Period `yaml:"start"`
	Months int           `yaml:"months"`
}

// SeriesConfig is a start period plus consecutive monthly values.
type SeriesConfig struct {
	Start  period.Period `yaml:"start"`
	Values []float64     `yaml:"values"`
}

func (c SeriesConfig) series() *Series {
	s := NewSeries()
	for i, v := range c.Values {
		s.Set(c.Start.Add(i), decimal.NewFromFloat(v))
	}
	return s
}

// RateConfig is either a fixed annual rate or a floating index plus
// spread.
type RateConfig struct {
	Fixed  float64       `yaml:"fixed"`
	Index  *SeriesConfig `yaml:"index"`
	Spread float64       `yaml:"spread"`
	Cap    float64       `yaml:"cap"`
	Floor  float64       `yaml:"floor"`
}

func (c RateConfig) spec() RateSpec {
	spec := RateSpec{
		Fixed:  Rate(c.Fixed),
		Spread: Rate(c.Spread),
		Cap:    Rate(c.Cap),
		Floor:  Rate(c.Floor),
	}
	if c.Index != nil {
		spec.Index = c.Index.series()
	}
	return spec
}

// TrancheConfig is one tranche of a facility.
type TrancheConfig struct {
	Name      string  `yaml:"name"`
	Seniority int     `yaml:"seniority"`
	LTC       float64 `yaml:"ltc"`
}

// SweepConfig is the optional cash-sweep covenant.
type SweepConfig struct {
	Mode string  `yaml:"mode"`
	Cap  float64 `yaml:"cap"`
}

// MonitorConfig holds the ongoing covenant thresholds.
type MonitorConfig struct {
	MaxLTV       float64 `yaml:"max_ltv"`
	MinDSCR      float64 `yaml:"min_dscr"`
	MinDebtYield float64 `yaml:"min_debt_yield"`
}

// FacilityConfig is one debt facility.
type FacilityConfig struct {
	Name            string          `yaml:"name"`
	Kind            string          `yaml:"kind"`
	Tranches        []TrancheConfig `yaml:"tranches"`
	Rate            RateConfig      `yaml:"rate"`
	Regime          string          `yaml:"regime"`
	Sizing          string          `yaml:"sizing"`
	Amount          float64         `yaml:"amount"`
	MaxLTV          float64         `yaml:"max_ltv"`
	MinDSCR         float64         `yaml:"min_dscr"`
	MinDebtYield    float64         `yaml:"min_debt_yield"`
	AmortYears      int             `yaml:"amort_years"`
	TermMonths      int             `yaml:"term_months"`
	InterestReserve float64         `yaml:"interest_reserve"`
	Sweep           SweepConfig     `yaml:"sweep"`
	Monitor         MonitorConfig   `yaml:"monitor"`
	RefinanceAt     *period.Period  `yaml:"refinance_at"`
	ClosingCostRate float64         `yaml:"closing_cost_rate"`
}

func (c FacilityConfig) facility() (*DebtFacility, error) {
	kind, err := ParseFacilityKind(c.Kind)
	if err != nil {
		return nil, fmt.Errorf("facility %q: %w", c.Name, err)
	}
	mode, err := ParseSweepMode(c.Sweep.Mode)
	if err != nil {
		return nil, fmt.Errorf("facility %q: %w", c.Name, err)
	}

	f := &DebtFacility{
		Name:            c.Name,
		Kind:            kind,
		Rate:            c.Rate.spec(),
		Amount:          M(c.Amount),
		MaxLTV:          Percent(c.MaxLTV),
		MinDSCR:         c.MinDSCR,
		MinDebtYield:    Percent(c.MinDebtYield),
		AmortYears:      c.AmortYears,
		TermMonths:      c.TermMonths,
		InterestReserve: M(c.InterestReserve),
		Sweep:           CashSweep{Mode: mode, Cap: M(c.Sweep.Cap)},
		Monitor: Covenants{
			MaxLTV:       Percent(c.Monitor.MaxLTV),
			MinDSCR:      c.Monitor.MinDSCR,
			MinDebtYield: Percent(c.Monitor.MinDebtYield),
		},
		RefinanceAt:     c.RefinanceAt,
		ClosingCostRate: Percent(c.ClosingCostRate),
	}

	switch c.Regime {
	case "", "synchronous":
		f.Regime = InterestSynchronous
	case "upfront":
		f.Regime = InterestUpfront
	default:
		return nil, fmt.Errorf("facility %q: unknown interest regime %q", c.Name, c.Regime)
	}
	switch c.Sizing {
	case "", "manual":
		f.Sizing = SizeManual
	case "auto":
		f.Sizing = SizeAuto
	default:
		return nil, fmt.Errorf("facility %q: unknown sizing method %q", c.Name, c.Sizing)
	}

	if len(c.Tranches) == 0 {
		// A facility with no explicit tranches is a single tranche
		// covering the whole commitment.
		f.Tranches = []Tranche{{Name: c.Name, Seniority: 0, LTC: 1}}
	}
	for _, t := range c.Tranches {
		f.Tranches = append(f.Tranches, Tranche{Name: t.Name, Seniority: t.Seniority, LTC: Percent(t.LTC)})
	}
	return f, nil
}

// PartnerConfig is one member of the partnership.
type PartnerConfig struct {
	Name       string   `yaml:"name"`
	Role       string   `yaml:"role"`
	Share      float64  `yaml:"share"`
	Commitment *float64 `yaml:"commitment"`
}

// PromoteConfig is the carried-interest schedule.
type PromoteConfig struct {
	Preferred float64 `yaml:"preferred"`
	Tiers     []struct {
		Hurdle  float64 `yaml:"hurdle"`
		Promote float64 `yaml:"promote"`
	} `yaml:"tiers"`
}

// PartnershipConfig is the partner set plus distribution rules.
type PartnershipConfig struct {
	Method   string          `yaml:"method"`
	Partners []PartnerConfig `yaml:"partners"`
	Promote  *PromoteConfig  `yaml:"promote"`
}

func (c PartnershipConfig) structure() (*PartnershipStructure, error) {
	method, err := ParseDistributionMethod(c.Method)
	if err != nil {
		return nil, err
	}
	s := &PartnershipStructure{Method: method}
	for _, pc := range c.Partners {
		role, err := ParseRole(pc.Role)
		if err != nil {
			return nil, fmt.Errorf("partner %q: %w", pc.Name, err)
		}
		if pc.Commitment != nil {
			s.Partners = append(s.Partners, NewCommittedPartner(pc.Name, role, Percent(pc.Share), M(*pc.Commitment)))
		} else {
			s.Partners = append(s.Partners, NewPartner(pc.Name, role, Percent(pc.Share)))
		}
	}
	if c.Promote != nil {
		promote := &CarryPromote{Preferred: Rate(c.Promote.Preferred)}
		for _, t := range c.Promote.Tiers {
			promote.Tiers = append(promote.Tiers, PromoteTier{Hurdle: Rate(t.Hurdle), Promote: Percent(t.Promote)})
		}
		s.Promote = promote
	}
	return s, nil
}

// ParseDeal builds a validated deal from YAML.
func ParseDeal(data []byte) (*Deal, error) {
	var cfg DealConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing deal: %w", err)
	}
	return cfg.Deal()
}

// LoadDeal reads and builds a validated deal from a YAML file.
func LoadDeal(path string) (*Deal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading deal: %w", err)
	}
	return ParseDeal(data)
}

// Deal builds the domain object from the parsed configuration and
// validates it.
func (c DealConfig) Deal() (*Deal, error) {
	if c.Timeline.Months <= 0 {
		return nil, fmt.Errorf("deal %q: timeline months must be positive, got %d", c.Name, c.Timeline.Months)
	}
	d := &Deal{
		Name:          c.Name,
		AssetID:       c.AssetID,
		Timeline:      period.NewRange(c.Timeline.Start, c.Timeline.Months),
		NOI:           c.NOI.series(),
		CapitalUses:   c.CapitalUses.series(),
		PropertyValue: M(c.PropertyValue),
		TotalCost:     M(c.TotalCost),
	}
	for _, fc := range c.Facilities {
		f, err := fc.facility()
		if err != nil {
			return nil, fmt.Errorf("deal %q: %w", c.Name, err)
		}
		d.Facilities = append(d.Facilities, f)
	}
	partnership, err := c.Partnership.structure()
	if err != nil {
		return nil, fmt.Errorf("deal %q: %w", c.Name, err)
	}
	d.Partnership = partnership
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
