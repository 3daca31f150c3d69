package normalize

import (
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/capture-cli/internal/model"
)

// Entity normalizes one record from the entity information API.
func (n *Normalizer) Entity(raw map[string]any) (model.Contractor, bool) {
	uei := FirstNonEmpty(raw, "entityRegistration.ueiSAM", "ueiSAM")
	id, ok := n.contractorID(uei, "api")
	if !ok {
		return model.Contractor{}, false
	}

	poc := "entityRegistration.electronicBusinessPoc"
	if Field(raw, poc+".firstName") == "" && Field(raw, poc+".lastName") == "" {
		poc = "pointsOfContact.electronicBusinessPOC"
	}
	addr := "entityRegistration.physicalAddress"
	if Field(raw, addr+".city") == "" {
		addr = "coreData.physicalAddress"
	}

	var naics, psc, certs []string
	for _, p := range []string{"assertions.naicsList", "assertions.goodsAndServices.naicsList"} {
		for _, item := range Objects(raw, p) {
			naics = append(naics, Field(item, "naicsCode"))
		}
	}
	for _, item := range Objects(raw, "assertions.goodsAndServices.pscList") {
		psc = append(psc, Field(item, "pscCode"))
	}
	for _, p := range []string{
		"coreData.businessTypes",
		"coreData.businessTypes.businessTypeList",
		"coreData.businessTypes.sbaBusinessTypeList",
	} {
		for _, item := range Objects(raw, p) {
			certs = append(certs, FirstNonEmpty(item, "businessTypeCode", "sbaBusinessTypeCode"))
		}
	}

	return model.Contractor{
		ID:              id,
		CompanyName:     Trunc(Field(raw, "entityRegistration.legalBusinessName"), WidthName),
		DBAName:         Trunc(FirstNonEmpty(raw, "entityRegistration.dbaName", "entityRegistration.doingBusinessAsName"), WidthName),
		CAGECode:        Trunc(Field(raw, "entityRegistration.cageCode"), WidthCAGE),
		AddressLine1:    Trunc(Field(raw, addr+".addressLine1"), WidthAddress),
		City:            Trunc(Field(raw, addr+".city"), WidthCity),
		State:           Trunc(Field(raw, addr+".stateOrProvinceCode"), WidthState),
		ZipCode:         Trunc(Field(raw, addr+".zipCode"), WidthZip),
		CountryCode:     Trunc(Field(raw, addr+".countryCode"), WidthCountry),
		BusinessURL:     Trunc(Field(raw, "coreData.entityInformation.entityURL"), WidthURL),
		NAICSCodes:      model.UnionCodes(naics),
		PSCCodes:        model.UnionCodes(psc),
		Certifications:  Certifications(certs),
		Registered:      true,
		ActivationDate:  ParseDate(Field(raw, "entityRegistration.activationDate")),
		ExpirationDate:  ParseDate(Field(raw, "entityRegistration.registrationExpirationDate")),
		PrimaryPOCName:  Trunc(joinName(Field(raw, poc+".firstName"), Field(raw, poc+".lastName")), WidthName),
		PrimaryPOCEmail: strings.ToLower(Trunc(Field(raw, poc+".email"), WidthEmail)),
		PrimaryPOCPhone: Trunc(Field(raw, poc+".usPhone"), WidthPhone),
		Source:          model.SourceAPI,
	}, true
}

// Extract file layout.
const (
	ExtractMinColumns = 50

	colUEI             = 0
	colStatus          = 5
	colCAGE            = 3
	colExpiration      = 8
	colActivation      = 9
	colLegalName       = 11
	colDBAName         = 12
	colAddress         = 15
	colCity            = 17
	colState           = 18
	colZip             = 19
	colCountry         = 21
	colURL             = 26
	colSBACerts        = 31
	colNAICS           = 34
	colPSC             = 36
	colPrimaryFirst    = 46
	colPrimaryLast     = 48
	colSecondaryFirst  = 90
	colSecondaryLast   = 92
	extractActiveValue = "A"
)

// IsControlLine reports whether a raw extract line is the BOF header or the
// !end footer.
func IsControlLine(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "BOF") || strings.HasPrefix(strings.ToLower(line), "!end")
}

// ExtractEntity normalizes one pipe-split row of the entity extract file.
func (n *Normalizer) ExtractEntity(cols []string) (model.Contractor, bool) {
	if len(cols) > 0 && IsControlLine(cols[0]) {
		n.skip(SkipControlLine)
		return model.Contractor{}, false
	}
	if len(cols) < ExtractMinColumns {
		n.skip(SkipShortRow, zap.Int("columns", len(cols)))
		return model.Contractor{}, false
	}
	col := func(i int) string {
		if i < len(cols) {
			return strings.TrimSpace(cols[i])
		}
		return ""
	}
	if col(colStatus) != extractActiveValue {
		n.skip(SkipInactive, zap.String("uei", col(colUEI)))
		return model.Contractor{}, false
	}
	id, ok := n.contractorID(col(colUEI), "extract")
	if !ok {
		return model.Contractor{}, false
	}

	return model.Contractor{
		ID:               id,
		CompanyName:      Trunc(col(colLegalName), WidthName),
		DBAName:          Trunc(col(colDBAName), WidthName),
		CAGECode:         Trunc(col(colCAGE), WidthCAGE),
		AddressLine1:     Trunc(col(colAddress), WidthAddress),
		City:             Trunc(col(colCity), WidthCity),
		State:            Trunc(col(colState), WidthState),
		ZipCode:          Trunc(col(colZip), WidthZip),
		CountryCode:      Trunc(col(colCountry), WidthCountry),
		BusinessURL:      Trunc(col(colURL), WidthURL),
		NAICSCodes:       CleanTaxonomy(col(colNAICS)),
		PSCCodes:         CleanTaxonomy(col(colPSC)),
		Certifications:   SplitCertifications(col(colSBACerts)),
		Registered:       true,
		ActivationDate:   ParseCompactDate(col(colActivation)),
		ExpirationDate:   ParseCompactDate(col(colExpiration)),
		PrimaryPOCName:   Trunc(joinName(col(colPrimaryFirst), col(colPrimaryLast)), WidthName),
		SecondaryPOCName: Trunc(joinName(col(colSecondaryFirst), col(colSecondaryLast)), WidthName),
		Source:           model.SourceExtract,
	}, true
}

// WebLead is a search result describing a prospective contractor.
type WebLead struct {
	Title   string
	URL     string
	Snippet string
	Query   string
}

// Domain returns the lead's host without a leading www.
func (l WebLead) Domain() string {
	raw := strings.TrimSpace(l.URL)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// WebLead normalizes a discovered lead into an unregistered contractor.
func (n *Normalizer) WebLead(lead WebLead) (model.Contractor, bool) {
	domain := lead.Domain()
	if domain == "" {
		n.skip(SkipMissingDomain, zap.String("title", lead.Title))
		return model.Contractor{}, false
	}

	name := Trunc(lead.Title, WidthName)
	if name == "" {
		name = domain
	}
	notes := strings.TrimSpace(lead.Snippet)
	if q := strings.TrimSpace(lead.Query); q != "" {
		notes = strings.TrimSpace("Found via \"" + q + "\". " + notes)
	}

	return model.Contractor{
		ID:          model.DiscoveredID(domain),
		CompanyName: name,
		BusinessURL: Trunc(lead.URL, WidthURL),
		Notes:       Trunc(notes, WidthNotes),
		Registered:  false,
		Source:      model.SourceWeb,
	}, true
}

func (n *Normalizer) contractorID(uei, source string) (model.ContractorID, bool) {
	uei = Trunc(uei, WidthUEI)
	if uei == "" {
		n.skip(SkipMissingUEI, zap.String("source", source))
		return model.ContractorID{}, false
	}
	id, err := model.RegisteredID(uei)
	if err != nil {
		n.skip(SkipInvalidUEI, zap.String("source", source), zap.String("uei", uei))
		return model.ContractorID{}, false
	}
	return id, true
}

func joinName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
