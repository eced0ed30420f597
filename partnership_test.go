package proforma

import (
	"errors"
	"math"
	"testing"
)

func twoPartners() *PartnershipStructure {
	return &PartnershipStructure{
		Partners: []Partner{
			NewPartner("lp", LP, 0.9),
			NewPartner("gp", GP, 0.1),
		},
		Method: PariPassu,
	}
}

func TestPartnership_Validate(t *testing.T) {
	if err := twoPartners().Validate(); err != nil {
		t.Fatalf("Validate() error = %v for a valid partnership", err)
	}

	testCases := []struct {
		name   string
		mutate func(*PartnershipStructure)
		want   error // optional sentinel
	}{
		{"no partners", func(s *PartnershipStructure) { s.Partners = nil }, nil},
		{"shares do not sum to one", func(s *PartnershipStructure) { s.Partners[0].Share = 0.5 }, nil},
		{"negative share", func(s *PartnershipStructure) {
			s.Partners[0].Share = 1.2
			s.Partners[1].Share = -0.2
		}, nil},
		{"duplicate names", func(s *PartnershipStructure) { s.Partners[1].Name = "lp" }, nil},
		{"mixed commitments", func(s *PartnershipStructure) {
			s.Partners[0] = NewCommittedPartner("lp", LP, 0.9, M(900_000))
		}, ErrMixedCommitments},
		{"waterfall without gp", func(s *PartnershipStructure) {
			s.Partners = []Partner{NewPartner("a", LP, 0.5), NewPartner("b", LP, 0.5)}
			s.Method = Waterfall
			s.Promote = &CarryPromote{Preferred: 0.08, Tiers: []PromoteTier{{Hurdle: 0.08, Promote: 0.2}}}
		}, ErrNoGeneralPartner},
		{"waterfall without promote", func(s *PartnershipStructure) { s.Method = Waterfall }, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := twoPartners()
			tc.mutate(s)
			err := s.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("Validate() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCarryPromote_Validate(t *testing.T) {
	good := CarryPromote{Preferred: 0.08, Tiers: []PromoteTier{
		{Hurdle: 0.08, Promote: 0.2},
		{Hurdle: 0.15, Promote: 0.3},
	}}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate() error = %v for a valid promote", err)
	}

	testCases := []struct {
		name    string
		promote CarryPromote
	}{
		{"no tiers", CarryPromote{Preferred: 0.08}},
		{"descending hurdles", CarryPromote{Preferred: 0.08, Tiers: []PromoteTier{
			{Hurdle: 0.15, Promote: 0.2}, {Hurdle: 0.08, Promote: 0.3},
		}}},
		{"promote of one", CarryPromote{Preferred: 0.08, Tiers: []PromoteTier{{Hurdle: 0.08, Promote: 1}}}},
		{"negative preferred", CarryPromote{Preferred: -0.01, Tiers: []PromoteTier{{Hurdle: 0.08, Promote: 0.2}}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.promote.Validate(); err == nil {
				t.Errorf("Validate() = nil, want error")
			}
		})
	}
}

func TestCallShares_ByOwnership(t *testing.T) {
	shares := twoPartners().CallShares()
	if got := shares["lp"].InexactFloat64(); math.Abs(got-0.9) > 1e-12 {
		t.Errorf("lp call share = %g, want 0.9", got)
	}
	if got := shares["gp"].InexactFloat64(); math.Abs(got-0.1) > 1e-12 {
		t.Errorf("gp call share = %g, want 0.1", got)
	}
}

func TestCallShares_ByCommitment(t *testing.T) {
	// Commitments deliberately differ from ownership shares.
	s := &PartnershipStructure{
		Partners: []Partner{
			NewCommittedPartner("lp", LP, 0.9, M(750_000)),
			NewCommittedPartner("gp", GP, 0.1, M(250_000)),
		},
		Method: PariPassu,
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !s.Committed() {
		t.Fatalf("Committed() = false, want true")
	}
	shares := s.CallShares()
	if got := shares["lp"].InexactFloat64(); math.Abs(got-0.75) > 1e-12 {
		t.Errorf("lp call share = %g, want 0.75", got)
	}
	if got := shares["gp"].InexactFloat64(); math.Abs(got-0.25) > 1e-12 {
		t.Errorf("gp call share = %g, want 0.25", got)
	}
}
