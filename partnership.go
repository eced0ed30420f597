package proforma

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Role distinguishes general from limited partners.
type Role int

const (
	GP Role = iota
	LP
)

func (r Role) String() string {
	switch r {
	case GP:
		return "gp"
	case LP:
		return "lp"
	default:
		return "unknown"
	}
}

// ParseRole parses a string into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "gp":
		return GP, nil
	case "lp":
		return LP, nil
	default:
		return 0, fmt.Errorf("unknown partner role: %q", s)
	}
}

// DistributionMethod selects how distributable cash is split among
// partners.
type DistributionMethod int

const (
	// PariPassu splits every period's cash strictly proportional to
	// ownership share.
	PariPassu DistributionMethod = iota
	// Waterfall applies tiered allocation: capital return, compounding
	// preferred return, then promote tiers.
	Waterfall
)

func (m DistributionMethod) String() string {
	switch m {
	case PariPassu:
		return "pari passu"
	case Waterfall:
		return "waterfall"
	default:
		return "unknown"
	}
}

// ParseDistributionMethod parses a string into a DistributionMethod.
func ParseDistributionMethod(s string) (DistributionMethod, error) {
	switch s {
	case "pari passu", "pari_passu":
		return PariPassu, nil
	case "waterfall":
		return Waterfall, nil
	default:
		return 0, fmt.Errorf("unknown distribution method: %q", s)
	}
}

// Partner is one member of the partnership.
type Partner struct {
	Name       string
	Role       Role
	Share      Percent // ownership share, all shares sum to 1.0
	Commitment Money   // optional explicit capital commitment
	committed  bool
}

// NewPartner creates a partner whose equity is called pro-rata to
// ownership share.
func NewPartner(name string, role Role, share Percent) Partner {
	return Partner{Name: name, Role: role, Share: share}
}

// NewCommittedPartner creates a partner with an explicit capital
// commitment. Commitment mode is all-or-nothing across the partnership.
func NewCommittedPartner(name string, role Role, share Percent, commitment Money) Partner {
	return Partner{Name: name, Role: role, Share: share, Commitment: commitment, committed: true}
}

// HasCommitment reports whether the partner carries an explicit
// capital commitment.
func (p Partner) HasCommitment() bool { return p.committed }

// PromoteTier defines one promote band: above Hurdle (an LP IRR), the
// GP earns Promote of every distributed dollar, up to the next tier's
// hurdle. The last tier's promote is the final top-tier rate applied to
// all residual.
type PromoteTier struct {
	Hurdle  Rate
	Promote Percent
}

// CarryPromote describes the GP's carried interest: a compounding
// preferred return owed on unreturned capital, then promote tiers in
// ascending hurdle order.
type CarryPromote struct {
	Preferred Rate
	Tiers     []PromoteTier
}

// Validate checks the promote structure for ascending hurdles and sane
// rates.
func (c CarryPromote) Validate() error {
	var errs error
	if c.Preferred < 0 {
		errs = errors.Join(errs, fmt.Errorf("preferred return rate must not be negative, got %s", c.Preferred))
	}
	if len(c.Tiers) == 0 {
		errs = errors.Join(errs, errors.New("promote requires at least one tier"))
	}
	prev := Rate(-1)
	for i, t := range c.Tiers {
		if t.Hurdle <= prev {
			errs = errors.Join(errs, fmt.Errorf("tier %d hurdle %s does not ascend", i, t.Hurdle))
		}
		if t.Promote < 0 || t.Promote >= 1 {
			errs = errors.Join(errs, fmt.Errorf("tier %d promote %s must be in [0, 1)", i, t.Promote))
		}
		prev = t.Hurdle
	}
	return errs
}

// Sentinel configuration errors.
var (
	ErrNoGeneralPartner = errors.New("waterfall distribution requires at least one GP partner")
	ErrMixedCommitments = errors.New("capital commitments are all-or-nothing: every partner must specify one, or none")
)

// PartnershipStructure is the ordered set of partners plus the
// distribution rules applied to their cash.
type PartnershipStructure struct {
	Partners []Partner
	Method   DistributionMethod
	Promote  *CarryPromote // required for Waterfall
}

// Validate rejects malformed partnership configuration eagerly, before
// any simulation runs.
func (s *PartnershipStructure) Validate() error {
	var errs error
	if len(s.Partners) == 0 {
		return errors.New("partnership requires at least one partner")
	}

	total := decimal.Zero
	committed, uncommitted := 0, 0
	hasGP := false
	seen := make(map[string]struct{})
	for _, p := range s.Partners {
		if p.Name == "" {
			errs = errors.Join(errs, errors.New("partner name is missing"))
		}
		if _, dup := seen[p.Name]; dup {
			errs = errors.Join(errs, fmt.Errorf("duplicate partner name %q", p.Name))
		}
		seen[p.Name] = struct{}{}
		if p.Share < 0 {
			errs = errors.Join(errs, fmt.Errorf("partner %q share must not be negative, got %s", p.Name, p.Share))
		}
		total = total.Add(decimal.NewFromFloat(float64(p.Share)))
		if p.Role == GP {
			hasGP = true
		}
		if p.HasCommitment() {
			committed++
		} else {
			uncommitted++
		}
	}

	if !total.Sub(decimal.NewFromInt(1)).Abs().LessThan(decimal.NewFromFloat(1e-9)) {
		errs = errors.Join(errs, fmt.Errorf("ownership shares must sum to 1.0, got %s", total))
	}
	if committed > 0 && uncommitted > 0 {
		errs = errors.Join(errs, ErrMixedCommitments)
	}
	if s.Method == Waterfall {
		if !hasGP {
			errs = errors.Join(errs, ErrNoGeneralPartner)
		}
		if s.Promote == nil {
			errs = errors.Join(errs, errors.New("waterfall distribution requires a promote structure"))
		} else if err := s.Promote.Validate(); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// Committed reports whether the partnership runs in explicit
// capital-commitment mode.
func (s *PartnershipStructure) Committed() bool {
	return len(s.Partners) > 0 && s.Partners[0].HasCommitment()
}

// CallShares returns each partner's fraction of an equity call: pro-rata
// to commitments in commitment mode, to ownership shares otherwise.
func (s *PartnershipStructure) CallShares() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(s.Partners))
	if s.Committed() {
		total := decimal.Zero
		for _, p := range s.Partners {
			total = total.Add(p.Commitment.Decimal())
		}
		for _, p := range s.Partners {
			out[p.Name] = p.Commitment.Decimal().Div(total)
		}
		return out
	}
	for _, p := range s.Partners {
		out[p.Name] = decimal.NewFromFloat(float64(p.Share))
	}
	return out
}
