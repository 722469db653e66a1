package enrich

import (
	"strings"

	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
	"github.com/mkre153/dealfinder-pro-sub000/internal/match"
)

// Entity tokens whose presence in an owner name marks a non-individual
// owner. Token-level matching keeps "Trustman" from tripping TRUST.
var investorTokens = map[string]struct{}{
	"LLC": {}, "TRUST": {}, "INC": {}, "CORP": {}, "LP": {},
	"VENTURES": {}, "PROPERTIES": {}, "HOLDINGS": {}, "INVESTMENTS": {},
}

// signalsFor computes the ownership block for one feed row. fallbackDOM is
// the matched corpus property's days-on-market, used when the feed row does
// not carry its own.
func signalsFor(rec FeedRecord, fallbackDOM *int) *domain.Ownership {
	o := &domain.Ownership{
		OwnerName:     ownerName(rec),
		MailingStreet: rec.MailingStreet,
		MailingCity:   rec.MailingCity,
		MailingState:  rec.MailingState,
		MailingZip:    rec.MailingZip,
	}
	o.PreviousOwners = append(o.PreviousOwners, rec.PrevOwners...)

	o.AbsenteeOwner = isAbsentee(rec)
	o.InvestorOwned = anyEntityName(rec.Owner1Biz, joinName(rec.Owner1First, rec.Owner1Last), joinName(rec.Owner2First, rec.Owner2Last))
	o.FlipHistory = anyEntityName(rec.PrevOwners...)

	dom := rec.DaysOnMarket
	if dom == nil {
		dom = fallbackDOM
	}
	o.MotivatedSeller = dom != nil && *dom >= 60

	return o
}

// isAbsentee reports whether the owner's mailing address differs from the
// property address. With no mailing address on file the answer is false.
func isAbsentee(rec FeedRecord) bool {
	if rec.MailingZip != "" && match.Normalize(rec.MailingZip) != match.Normalize(rec.Zip) {
		return true
	}
	if rec.MailingStreet != "" && match.Normalize(rec.MailingStreet) != match.Normalize(rec.Street) {
		return true
	}
	return false
}

func anyEntityName(names ...string) bool {
	for _, name := range names {
		for _, token := range strings.Fields(match.Normalize(name)) {
			if _, ok := investorTokens[token]; ok {
				return true
			}
		}
	}
	return false
}

func ownerName(rec FeedRecord) string {
	if rec.Owner1Biz != "" {
		return rec.Owner1Biz
	}
	if n := joinName(rec.Owner1First, rec.Owner1Last); n != "" {
		return n
	}
	return joinName(rec.Owner2First, rec.Owner2Last)
}

func joinName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}
