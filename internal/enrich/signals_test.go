package enrich

import (
	"testing"
)

func TestIsAbsentee(t *testing.T) {
	tests := []struct {
		name string
		rec  FeedRecord
		want bool
	}{
		{
			"no mailing address on file",
			FeedRecord{Street: "123 Main St", Zip: "92128"},
			false,
		},
		{
			"owner occupied",
			FeedRecord{Street: "123 Main St", Zip: "92128", MailingStreet: "123 MAIN ST.", MailingZip: "92128"},
			false,
		},
		{
			"different zip",
			FeedRecord{Street: "123 Main St", Zip: "92128", MailingStreet: "123 Main St", MailingZip: "85001"},
			true,
		},
		{
			"different street same zip",
			FeedRecord{Street: "123 Main St", Zip: "92128", MailingStreet: "PO Box 12", MailingZip: "92128"},
			true,
		},
		{
			"only mailing street on file and it matches",
			FeedRecord{Street: "123  Main St", Zip: "92128", MailingStreet: "123 Main St"},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAbsentee(tt.rec); got != tt.want {
				t.Errorf("isAbsentee() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnyEntityName(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want bool
	}{
		{"business suffix", []string{"Smith Holdings LLC"}, true},
		{"punctuated suffix", []string{"Acme Investments, L.L.C."}, true},
		{"trust", []string{"The Smith Family Trust"}, true},
		{"individual", []string{"John Smith"}, false},
		{"token inside word", []string{"Trustman Realty"}, false},
		{"second name hits", []string{"John Smith", "Oak Ventures"}, true},
		{"empty", []string{""}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := anyEntityName(tt.in...); got != tt.want {
				t.Errorf("anyEntityName(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSignalsFor(t *testing.T) {
	dom := 65
	rec := FeedRecord{
		Street:       "123 Main St",
		Zip:          "92128",
		DaysOnMarket: &dom,
		Owner1Biz:    "Smith Holdings LLC",
		MailingZip:   "85001",
		PrevOwners:   []string{"Flip Ventures LLC"},
	}

	o := signalsFor(rec, nil)
	if !o.AbsenteeOwner {
		t.Error("expected absentee_owner")
	}
	if !o.InvestorOwned {
		t.Error("expected investor_owned")
	}
	if !o.FlipHistory {
		t.Error("expected flip_history")
	}
	if !o.MotivatedSeller {
		t.Error("expected motivated_seller at 65 days")
	}
	if o.OwnerName != "Smith Holdings LLC" {
		t.Errorf("owner name = %q", o.OwnerName)
	}
}

func TestSignalsForMotivatedFallback(t *testing.T) {
	rec := FeedRecord{Street: "9 Elm St", Zip: "02116"}

	snapDOM := 90
	if o := signalsFor(rec, &snapDOM); !o.MotivatedSeller {
		t.Error("expected fallback to corpus days-on-market")
	}

	fresh := 10
	if o := signalsFor(rec, &fresh); o.MotivatedSeller {
		t.Error("10 days on market is not motivated")
	}

	if o := signalsFor(rec, nil); o.MotivatedSeller {
		t.Error("unknown days on market is not motivated")
	}
}
