package model

import (
	"sort"
	"time"
)

// Source identifies the ingestion path that produced a record.
type Source string

const (
	SourceAPI     Source = "api"
	SourceExtract Source = "extract"
	SourceCSV     Source = "csv"
	SourceWeb     Source = "web"
)

// Contractor is a business entity that can pursue opportunities.
type Contractor struct {
	ID               ContractorID `json:"uei"`
	CompanyName      string       `json:"company_name"`
	DBAName          string       `json:"dba_name,omitempty"`
	CAGECode         string       `json:"cage_code,omitempty"`
	AddressLine1     string       `json:"address_line_1,omitempty"`
	City             string       `json:"city,omitempty"`
	State            string       `json:"state,omitempty"`
	ZipCode          string       `json:"zip_code,omitempty"`
	CountryCode      string       `json:"country_code,omitempty"`
	BusinessURL      string       `json:"business_url,omitempty"`
	NAICSCodes       []string     `json:"naics_codes"`
	PSCCodes         []string     `json:"psc_codes"`
	Certifications   []string     `json:"certifications"`
	Registered       bool         `json:"is_sam_registered"`
	ActivationDate   *time.Time   `json:"activation_date,omitempty"`
	ExpirationDate   *time.Time   `json:"expiration_date,omitempty"`
	PrimaryPOCName   string       `json:"primary_poc_name,omitempty"`
	PrimaryPOCEmail  string       `json:"primary_poc_email,omitempty"`
	PrimaryPOCPhone  string       `json:"primary_poc_phone,omitempty"`
	SecondaryPOCName string       `json:"secondary_poc_name,omitempty"`
	Notes            string       `json:"notes,omitempty"`
	Source           Source       `json:"source,omitempty"`
	UpdatedAt        time.Time    `json:"updated_at,omitempty"`
}

// ContractorFilter narrows contractor listings.
type ContractorFilter struct {
	RegisteredOnly bool
	State          string
	Limit          int
}

// MergeContractor folds incoming into existing. A non-empty incoming value
// overwrites; an empty one never erases. Code sets are unioned and the
// registration flag stays set once any source reports it.
func MergeContractor(existing, incoming Contractor) Contractor {
	out := existing
	if out.ID.IsZero() {
		out.ID = incoming.ID
	}

	str := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	str(&out.CompanyName, incoming.CompanyName)
	str(&out.DBAName, incoming.DBAName)
	str(&out.CAGECode, incoming.CAGECode)
	str(&out.AddressLine1, incoming.AddressLine1)
	str(&out.City, incoming.City)
	str(&out.State, incoming.State)
	str(&out.ZipCode, incoming.ZipCode)
	str(&out.CountryCode, incoming.CountryCode)
	str(&out.BusinessURL, incoming.BusinessURL)
	str(&out.PrimaryPOCName, incoming.PrimaryPOCName)
	str(&out.PrimaryPOCEmail, incoming.PrimaryPOCEmail)
	str(&out.PrimaryPOCPhone, incoming.PrimaryPOCPhone)
	str(&out.SecondaryPOCName, incoming.SecondaryPOCName)
	str(&out.Notes, incoming.Notes)
	if incoming.Source != "" {
		out.Source = incoming.Source
	}
	if incoming.ActivationDate != nil {
		out.ActivationDate = incoming.ActivationDate
	}
	if incoming.ExpirationDate != nil {
		out.ExpirationDate = incoming.ExpirationDate
	}

	out.NAICSCodes = UnionCodes(existing.NAICSCodes, incoming.NAICSCodes)
	out.PSCCodes = UnionCodes(existing.PSCCodes, incoming.PSCCodes)
	out.Certifications = UnionCodes(existing.Certifications, incoming.Certifications)
	out.Registered = existing.Registered || incoming.Registered
	return out
}

// MergeBatch collapses contractors sharing an identity with MergeContractor,
// keeping first-seen order. Contractors without an identity are dropped.
func MergeBatch(cs []Contractor) []Contractor {
	pos := make(map[string]int, len(cs))
	out := make([]Contractor, 0, len(cs))
	for _, c := range cs {
		if c.ID.IsZero() {
			continue
		}
		if p, ok := pos[c.ID.Key()]; ok {
			out[p] = MergeContractor(out[p], c)
			continue
		}
		pos[c.ID.Key()] = len(out)
		out = append(out, c)
	}
	return out
}

// UnionCodes returns the sorted, de-duplicated union of code sets.
func UnionCodes(sets ...[]string) []string {
	seen := make(map[string]struct{})
	for _, s := range sets {
		for _, c := range s {
			if c != "" {
				seen[c] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// HasCode reports whether code is a member of set.
func HasCode(set []string, code string) bool {
	if code == "" {
		return false
	}
	for _, c := range set {
		if c == code {
			return true
		}
	}
	return false
}
