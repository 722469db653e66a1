// Package enrich turns an owner-intelligence CSV feed plus the current
// corpus snapshot into a new snapshot carrying ownership signals. Parsing
// and merging are pure; reading the feed and swapping the snapshot belong
// to the caller.
package enrich

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Required feed columns, matched case-insensitively after whitespace
// normalization.
var requiredColumns = []string{
	"street", "city", "state", "zip",
	"price", "sq ft", "price/sq ft", "beds", "baths",
	"lot size", "year built", "property type", "status",
	"days on market", "# of units",
	"owner 1 first name", "owner 1 last name", "owner 1 business name",
	"owner 2 first name", "owner 2 last name",
	"owner mailing street", "owner mailing city", "owner mailing state", "owner mailing zip",
	"previous owner 1", "previous owner 2",
}

// FeedRecord is one parsed feed row. Numeric fields are nil when the cell
// was empty or unparseable; the merge treats both as absent.
type FeedRecord struct {
	Street        string
	City          string
	State         string
	Zip           string
	Price         *int64
	SquareFeet    *int
	PricePerSqft  *float64
	Bedrooms      *int
	Bathrooms     *float64
	LotSize       *int
	YearBuilt     *int
	PropertyType  string
	Status        string
	DaysOnMarket  *int
	Units         *int
	Owner1First   string
	Owner1Last    string
	Owner1Biz     string
	Owner2First   string
	Owner2Last    string
	MailingStreet string
	MailingCity   string
	MailingState  string
	MailingZip    string
	PrevOwners    []string
}

// RowIssue reports one skipped feed row.
type RowIssue struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Feed is a parsed enrichment feed: usable records plus the rows that were
// dropped, with line numbers for the report.
type Feed struct {
	Records []FeedRecord
	Skipped []RowIssue
}

// ParseFeed reads the CSV feed. A missing required column fails the whole
// feed; individual rows missing a street or zip are skipped and reported.
func ParseFeed(r io.Reader) (*Feed, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty feed")
	}
	if err != nil {
		return nil, fmt.Errorf("reading feed header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "﻿")
		}
		cols[normalizeHeader(h)] = i
	}

	var missing []string
	for _, want := range requiredColumns {
		if _, ok := cols[want]; !ok {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("feed is missing required columns: %s", strings.Join(missing, ", "))
	}

	feed := &Feed{}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading feed row: %w", err)
		}
		line, _ := cr.FieldPos(0)

		get := func(name string) string {
			idx := cols[name]
			if idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		street, zip := get("street"), get("zip")
		switch {
		case street == "":
			feed.Skipped = append(feed.Skipped, RowIssue{Line: line, Reason: "missing street"})
			continue
		case zip == "":
			feed.Skipped = append(feed.Skipped, RowIssue{Line: line, Reason: "missing zip"})
			continue
		}

		rec := FeedRecord{
			Street:        street,
			City:          get("city"),
			State:         get("state"),
			Zip:           zip,
			Price:         parseDollars(get("price")),
			SquareFeet:    parseInt(get("sq ft")),
			PricePerSqft:  parseFloat(get("price/sq ft")),
			Bedrooms:      parseInt(get("beds")),
			Bathrooms:     parseFloat(get("baths")),
			LotSize:       parseInt(get("lot size")),
			YearBuilt:     parseInt(get("year built")),
			PropertyType:  get("property type"),
			Status:        get("status"),
			DaysOnMarket:  parseInt(get("days on market")),
			Units:         parseInt(get("# of units")),
			Owner1First:   get("owner 1 first name"),
			Owner1Last:    get("owner 1 last name"),
			Owner1Biz:     get("owner 1 business name"),
			Owner2First:   get("owner 2 first name"),
			Owner2Last:    get("owner 2 last name"),
			MailingStreet: get("owner mailing street"),
			MailingCity:   get("owner mailing city"),
			MailingState:  get("owner mailing state"),
			MailingZip:    get("owner mailing zip"),
		}
		for _, prev := range []string{get("previous owner 1"), get("previous owner 2")} {
			if prev != "" {
				rec.PrevOwners = append(rec.PrevOwners, prev)
			}
		}

		feed.Records = append(feed.Records, rec)
	}

	return feed, nil
}

func normalizeHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(h)), " ")
}

// parseDollars accepts "$1,234,567", "1234567" or "1234567.00".
func parseDollars(s string) *int64 {
	s = strings.TrimSpace(strings.ReplaceAll(strings.TrimPrefix(s, "$"), ",", ""))
	if s == "" {
		return nil
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseInt(s string) *int {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func parseFloat(s string) *float64 {
	s = strings.ReplaceAll(strings.TrimSpace(strings.TrimPrefix(s, "$")), ",", "")
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
