package normalize

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/capture-cli/internal/model"
)

// Opportunity normalizes one record from the opportunities search API.
func (n *Normalizer) Opportunity(ctx context.Context, raw map[string]any) (model.Opportunity, bool) {
	noticeID := Trunc(Field(raw, "noticeId"), WidthNoticeID)
	if noticeID == "" {
		n.skip(SkipMissingNoticeID, zap.String("source", "api"))
		return model.Opportunity{}, false
	}

	// fullParentPathName reads "DEPARTMENT.SUB TIER.OFFICE".
	path := strings.Split(Field(raw, "fullParentPathName"), ".")
	seg := func(i int) string {
		if i < len(path) {
			return strings.TrimSpace(path[i])
		}
		return ""
	}
	pathOffice := ""
	if len(path) > 2 {
		pathOffice = strings.Join(path[2:], ".")
	}

	o := model.Opportunity{
		NoticeID:           noticeID,
		Title:              Trunc(Field(raw, "title"), WidthTitle),
		SolicitationNumber: Trunc(Field(raw, "solicitationNumber"), WidthSolicitation),
		Agency: model.AgencyKey{
			Department: Trunc(firstOf(FirstNonEmpty(raw, "department", "agency"), seg(0)), WidthAgencyField),
			SubTier:    Trunc(firstOf(FirstNonEmpty(raw, "subTier", "subtier"), seg(1)), WidthAgencyField),
			Office:     Trunc(firstOf(Field(raw, "office"), pathOffice), WidthAgencyField),
		}.Normalize(),
		NoticeType:       NoticeType(FirstNonEmpty(raw, "type", "baseType")),
		SetAsideCode:     SetAsideCode(FirstNonEmpty(raw, "typeOfSetAsideDescription", "typeOfSetAside", "setAside")),
		NAICSCode:        Trunc(FirstNonEmpty(raw, "naicsCode", "naics"), WidthCode),
		PSCCode:          Trunc(FirstNonEmpty(raw, "classificationCode", "pscCode"), WidthCode),
		PostedDate:       ParseDate(Field(raw, "postedDate")),
		ResponseDeadline: ParseDate(FirstNonEmpty(raw, "responseDeadLine", "responseDeadline")),
		PlaceState: Trunc(FirstNonEmpty(raw,
			"placeOfPerformance.state.code", "placeOfPerformance.state", "placeOfPerformanceState"), WidthState),
		Active:      ParseYes(Field(raw, "active"), false),
		Link:        Trunc(FirstNonEmpty(raw, "uiLink", "link"), WidthLink),
		Description: Trunc(Field(raw, "description"), WidthDescription),
		AwardAmount: ParseCurrency(Field(raw, "award.amount")),
		AwardDate:   ParseDate(Field(raw, "award.date")),
		AwardNumber: Trunc(Field(raw, "award.number"), WidthAwardField),
		Awardee:     Trunc(Field(raw, "award.awardee.name"), WidthAwardField),
		Source:      string(model.SourceAPI),
	}

	n.resolveKeys(ctx, &o)
	return o, true
}

// CSVRow is one export row keyed by header name.
type CSVRow map[string]string

func (r CSVRow) get(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(r[name]); v != "" {
			return v
		}
	}
	return ""
}

// AgencyKey returns the agency triple named by an export row.
func (r CSVRow) AgencyKey() model.AgencyKey {
	return model.AgencyKey{
		Department: Trunc(r.get("Department/Ind.Agency"), WidthAgencyField),
		SubTier:    Trunc(r.get("CGAC", "Sub-Tier"), WidthAgencyField),
		Office:     Trunc(r.get("Office"), WidthAgencyField),
	}.Normalize()
}

// HasAgency reports whether the row names any part of an agency.
func (r CSVRow) HasAgency() bool {
	return r.get("Department/Ind.Agency", "CGAC", "Sub-Tier", "Office") != ""
}

// ReferenceCodes returns the NAICS and PSC codes named by the row.
func (r CSVRow) ReferenceCodes() []model.ReferenceCode {
	var out []model.ReferenceCode
	if c := Trunc(r.get("NaicsCode"), WidthCode); c != "" {
		out = append(out, model.ReferenceCode{Kind: "naics", Code: c})
	}
	if c := Trunc(r.get("ClassificationCode"), WidthCode); c != "" {
		out = append(out, model.ReferenceCode{Kind: "psc", Code: c})
	}
	return out
}

// CSVOpportunity normalizes one row of a contract opportunities export and
// returns up to two contacts listed on it.
func (n *Normalizer) CSVOpportunity(ctx context.Context, row CSVRow) (model.Opportunity, []model.Contact, bool) {
	noticeID := Trunc(row.get("NoticeId"), WidthNoticeID)
	if noticeID == "" {
		n.skip(SkipMissingNoticeID, zap.String("source", "csv"))
		return model.Opportunity{}, nil, false
	}

	o := model.Opportunity{
		NoticeID:           noticeID,
		Title:              Trunc(row.get("Title"), WidthTitle),
		SolicitationNumber: Trunc(row.get("Sol#"), WidthSolicitation),
		Agency:             row.AgencyKey(),
		NoticeType:         NoticeType(row.get("Type", "BaseType")),
		SetAsideCode:       SetAsideCode(row.get("SetASideCode", "SetASide")),
		NAICSCode:          Trunc(row.get("NaicsCode"), WidthCode),
		PSCCode:            Trunc(row.get("ClassificationCode"), WidthCode),
		PostedDate:         ParseDate(row.get("PostedDate")),
		ResponseDeadline:   ParseDate(row.get("ResponseDeadLine")),
		PlaceState:         Trunc(row.get("PopState"), WidthState),
		Active:             ParseYes(row.get("Active"), true),
		Link:               Trunc(row.get("Link"), WidthLink),
		Description:        Trunc(row.get("Description"), WidthDescription),
		AwardAmount:        ParseCurrency(row.get("Award$")),
		AwardDate:          ParseDate(row.get("AwardDate")),
		AwardNumber:        Trunc(row.get("AwardNumber"), WidthAwardField),
		Awardee:            Trunc(row.get("Awardee"), WidthAwardField),
		Source:             string(model.SourceCSV),
	}
	n.resolveKeys(ctx, &o)

	var contacts []model.Contact
	for _, prefix := range []string{"Primary", "Secondary"} {
		email := strings.ToLower(Trunc(row.get(prefix+"ContactEmail"), WidthEmail))
		name := Trunc(row.get(prefix+"ContactFullname"), WidthName)
		if email == "" && name == "" {
			continue
		}
		contacts = append(contacts, model.Contact{
			NoticeID:  noticeID,
			Email:     email,
			FullName:  name,
			Title:     Trunc(row.get(prefix+"ContactTitle"), WidthName),
			Phone:     Trunc(row.get(prefix+"ContactPhone"), WidthPhone),
			Fax:       Trunc(row.get(prefix+"ContactFax"), WidthPhone),
			IsPrimary: prefix == "Primary",
		})
	}

	return o, contacts, true
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
