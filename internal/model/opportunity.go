package model

import (
	"strings"
	"time"
)

// DefaultDepartment is recorded when a source omits the department.
const DefaultDepartment = "Unknown Department"

// SetAsideNone is the sentinel for unrestricted or unrecognized set-asides.
const SetAsideNone = "NONE"

// AgencyKey is the (department, sub-tier, office) triple that identifies an agency.
type AgencyKey struct {
	Department string `json:"department"`
	SubTier    string `json:"sub_tier"`
	Office     string `json:"office"`
}

// Opportunity is a published solicitation or related notice.
type Opportunity struct {
	NoticeID           string     `json:"notice_id"`
	Title              string     `json:"title"`
	SolicitationNumber string     `json:"solicitation_number,omitempty"`
	Agency             AgencyKey  `json:"agency"`
	AgencyID           *int64     `json:"agency_id,omitempty"`
	NoticeType         string     `json:"notice_type"`
	NoticeTypeID       *int64     `json:"notice_type_id,omitempty"`
	SetAsideCode       string     `json:"set_aside_code"`
	SetAsideID         *int64     `json:"set_aside_id,omitempty"`
	NAICSCode          string     `json:"naics_code,omitempty"`
	PSCCode            string     `json:"psc_code,omitempty"`
	PostedDate         *time.Time `json:"posted_date,omitempty"`
	ResponseDeadline   *time.Time `json:"response_deadline,omitempty"`
	PlaceState         string     `json:"place_of_performance_state,omitempty"`
	Active             bool       `json:"active"`
	Link               string     `json:"link,omitempty"`
	Description        string     `json:"description,omitempty"`
	AwardAmount        *float64   `json:"award_amount,omitempty"`
	AwardDate          *time.Time `json:"award_date,omitempty"`
	AwardNumber        string     `json:"award_number,omitempty"`
	Awardee            string     `json:"awardee,omitempty"`
	Source             string     `json:"source,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at,omitempty"`
}

// Restricted reports whether bidding is limited to a certification.
func (o *Opportunity) Restricted() bool {
	return o.SetAsideCode != "" && o.SetAsideCode != SetAsideNone
}

// Contact is a point of contact listed on an opportunity.
type Contact struct {
	NoticeID  string `json:"notice_id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	Title     string `json:"title,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Fax       string `json:"fax,omitempty"`
	IsPrimary bool   `json:"is_primary"`
}

// ReferenceCode is a NAICS or PSC code observed in a source.
type ReferenceCode struct {
	Kind string `json:"kind"`
	Code string `json:"code"`
}

// OpportunityFilter narrows opportunity listings.
type OpportunityFilter struct {
	ActiveOnly  bool
	NAICS       string
	NoticeIDs   []string
	PostedAfter *time.Time
	Limit       int
}

// Normalize trims the triple and fills the default department.
func (k AgencyKey) Normalize() AgencyKey {
	k.Department = strings.TrimSpace(k.Department)
	k.SubTier = strings.TrimSpace(k.SubTier)
	k.Office = strings.TrimSpace(k.Office)
	if k.Department == "" {
		k.Department = DefaultDepartment
	}
	return k
}

// String joins the triple with a unit separator so distinct triples never collide.
func (k AgencyKey) String() string {
	return k.Department + "\x1f" + k.SubTier + "\x1f" + k.Office
}

// ParseAgencyKey reverses AgencyKey.String.
func ParseAgencyKey(s string) AgencyKey {
	parts := strings.SplitN(s, "\x1f", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return AgencyKey{Department: parts[0], SubTier: parts[1], Office: parts[2]}
}
