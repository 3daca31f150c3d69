package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/capture-cli/internal/model"
)

func TestCleanTaxonomy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"flags stripped", "541512Y~541990N", []string{"541512", "541990"}},
		{"duplicates collapse", "541512Y~541512N~541512", []string{"541512"}},
		{"order irrelevant", "541990N~541512Y", []string{"541512", "541990"}},
		{"blank items dropped", "~ 236220Y ~~", []string{"236220"}},
		{"psc codes", "D302Y~R425N", []string{"D302", "R425"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := CleanTaxonomy(tt.in)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetAsideCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"8A", "8A"},
		{"8a competed", "8A"},
		{"8(a) Set-Aside (FAR 19.8)", "8A"},
		{"8AN", "8A"},
		{"Total Small Business Set-Aside (FAR 19.5)", "SBA"},
		{"SBA", "SBA"},
		{"Partial Small Business Set-Aside (FAR 19.502-2)", "SBP"},
		{"Service-Disabled Veteran-Owned Small Business (SDVOSB) Set-Aside (FAR 19.14)", "SDVOSBC"},
		{"SDVOSBC", "SDVOSBC"},
		{"Women-Owned Small Business (WOSB) Program Set-Aside (FAR 19.15)", "WOSB"},
		{"Economically Disadvantaged WOSB (EDWOSB) Program Set-Aside (FAR 19.15)", "EDWOSB"},
		{"Historically Underutilized Business (HUBZone) Set-Aside (FAR 19.13)", "HZC"},
		{"Veteran-Owned Small Business Set-Aside (Department of Veterans Affairs)", "VSA"},
		{"HZS", "HZC"},
		{"VSS", "VSA"},
		{"No Set aside used", "NONE"},
		{"", "NONE"},
		{"   ", "NONE"},
		{"Indian Economic Enterprise", "NONE"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got := SetAsideCode(tt.in)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, got)
		})
	}
}

func TestSetAsideCode_Any8AIs8A(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"xx8Ayy", "hubzone or 8a", "SDVOSB 8A", "8a women owned"} {
		assert.Equal(t, "8A", SetAsideCode(s), s)
	}
}

func TestNoticeType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Combined Synopsis/Solicitation", NoticeCombined},
		{"combined synopsis + solicitation", NoticeCombined},
		{"Presolicitation", NoticePresolicitation},
		{"Pre-Solicitation", NoticePresolicitation},
		{"Solicitation", NoticeSolicitation},
		{"Sources Sought", NoticeSourcesSought},
		{"Award Notice", NoticeAward},
		{"Special Notice", NoticeSpecial},
		{"Sale of Surplus Property", NoticeSolicitation},
		{"", NoticeSolicitation},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NoticeType(tt.in))
		})
	}
}

func TestCertifications(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"8A", "HZC", "WOSB"}, Certifications([]string{"A6", "XX", "A2", "JT"}))
	assert.Equal(t, []string{"8A", "SDVOSBC"}, Certifications([]string{"8a", "sdvosb"}))
	assert.Equal(t, []string{"27", "VSA"}, Certifications([]string{"27", "A5", ""}))
	assert.Equal(t, []string{"8A", "HZC"}, SplitCertifications("A620291231~XX20270101"))
	assert.Empty(t, SplitCertifications(" "))
}

func TestSetAsideCodesIncludesSentinel(t *testing.T) {
	t.Parallel()
	assert.Contains(t, SetAsideCodes, model.SetAsideNone)
	assert.Len(t, NoticeTypes, 6)
}

func TestNameTokensAndContainsPhrase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"ACME", "DEFENSE"}, NameTokens("Acme Defense, LLC"))
	assert.Equal(t, []string{"SMITH", "AND", "SONS"}, NameTokens("Smith & Sons Inc."))
	assert.Empty(t, NameTokens("  "))

	title := NameTokens("Acme Defense sole source bridge contract")
	assert.True(t, ContainsPhrase(title, []string{"ACME", "DEFENSE"}))
	assert.False(t, ContainsPhrase(title, []string{"DEFENSE", "ACME"}))
	assert.False(t, ContainsPhrase(title, nil))
}
