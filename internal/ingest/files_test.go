package ingest

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/capture-cli/internal/config"
	"github.com/sells-group/capture-cli/internal/model"
	"github.com/sells-group/capture-cli/internal/normalize"
)

// extractLine builds a pipe-delimited extract row with the given columns set.
func extractLine(set map[int]string) string {
	cols := make([]string, 100)
	for i, v := range set {
		cols[i] = v
	}
	return strings.Join(cols, "|")
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func extractFixture() []byte {
	active := extractLine(map[int]string{0: "ABC123DEF456", 5: "A", 11: "Caf\xe9 Builders LLC", 18: "VA", 34: "236220Y~541330N", 31: "A6~XX"})
	inactive := extractLine(map[int]string{0: "ZZZ999ZZZ999", 5: "E", 11: "Gone Inc"})
	return []byte("BOF PUBLIC 20240301 20240301 0000002 0000001\n" +
		active + "\n" +
		inactive + "\n" +
		"short|row\n" +
		"!end of file\n")
}

func TestIngestExtract(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(nil, st, config.IngestConfig{ExtractBatch: 1})

	rep := e.IngestExtract(context.Background(), writeFile(t, "SAM_PUBLIC.dat", extractFixture()))

	assert.False(t, rep.Aborted)
	assert.Equal(t, 5, rep.Fetched)
	assert.Equal(t, 1, rep.Normalized)
	assert.Equal(t, 4, rep.Skipped)
	require.Contains(t, st.contractors, "ABC123DEF456")
	c := st.contractors["ABC123DEF456"]
	assert.Equal(t, "Café Builders LLC", c.CompanyName)
	assert.Equal(t, []string{"236220", "541330"}, c.NAICSCodes)
	assert.Equal(t, []string{"8A", "HZC"}, c.Certifications)
	assert.Equal(t, model.SourceExtract, c.Source)

	skips := e.norm.Skips().Snapshot()
	assert.Equal(t, 2, skips[normalize.SkipControlLine])
	assert.Equal(t, 1, skips[normalize.SkipInactive])
	assert.Equal(t, 1, skips[normalize.SkipShortRow])
}

func TestIngestExtract_Zipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extract.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	fw, err := w.Create("SAM_PUBLIC.dat")
	require.NoError(t, err)
	_, err = fw.Write(extractFixture())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	st := newFakeStore()
	rep := newTestEngine(nil, st, config.IngestConfig{}).IngestExtract(context.Background(), path)
	assert.False(t, rep.Aborted)
	assert.Len(t, st.contractors, 1)
}

func TestIngestExtract_MissingFile(t *testing.T) {
	st := newFakeStore()
	rep := newTestEngine(nil, st, config.IngestConfig{}).IngestExtract(context.Background(), filepath.Join(t.TempDir(), "nope.dat"))
	assert.True(t, rep.Aborted)
	require.Len(t, st.runs, 1)
	assert.Equal(t, model.RunFailed, st.runs[0].Status)
}

const csvHeader = "NoticeId,Title,Sol#,Department/Ind.Agency,Sub-Tier,Office,Type,SetASideCode,NaicsCode,ClassificationCode,PostedDate,ResponseDeadLine,PopState,Active,PrimaryContactEmail,PrimaryContactFullname,SecondaryContactEmail,SecondaryContactFullname\n"

func TestIngestCSV(t *testing.T) {
	data := csvHeader +
		"N1,Bridge repair,S-1,DEPT OF TRANSPORTATION,FHWA,Region 3,Solicitation,SBA,237310,Y1LB,2024-03-01 09:00:00.0-05,2024-04-01,VA,Yes,Jane@dot.gov,Jane Doe,,\n" +
		"N2,Road paving,S-2,DEPT OF TRANSPORTATION,FHWA,Region 3,Presolicitation,8A,237310,Z2LB,2024-03-02,,MD,Yes,bob@dot.gov,Bob Roe,amy@dot.gov,Amy Poe\n" +
		",missing id,,,,,,,,,,,,,,,,\n"
	path := writeFile(t, "export.csv", []byte(data))

	st := newFakeStore()
	e := newTestEngine(nil, st, config.IngestConfig{CSVBatch: 1})
	rep := e.IngestCSV(context.Background(), path)

	assert.False(t, rep.Aborted)
	assert.Equal(t, 3, rep.Fetched)
	assert.Equal(t, 2, rep.Normalized)
	assert.Equal(t, int64(2), rep.Upserted)
	assert.Equal(t, "8A", st.opps["N2"].SetAsideCode)
	assert.Equal(t, normalize.NoticePresolicitation, st.opps["N2"].NoticeType)
	assert.Len(t, st.contacts, 3)
	assert.Contains(t, st.contacts, [3]string{"N1", "jane@dot.gov", "Jane Doe"})
	assert.True(t, st.refs[model.ReferenceCode{Kind: "naics", Code: "237310"}])
	assert.True(t, st.refs[model.ReferenceCode{Kind: "psc", Code: "Z2LB"}])
	assert.Len(t, st.refs, 3)

	// pass one warmed the shared agency, pass two hit the cache
	stats := e.norm.Resolver().Stats()
	assert.Positive(t, stats.Hits)
}

func TestIngestCSV_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.xlsx")
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, row := range [][]string{
		{"NoticeId", "Title", "Department/Ind.Agency", "NaicsCode"},
		{"X1", "Janitorial", "GSA", "561720"},
	} {
		r := sheet.AddRow()
		for _, v := range row {
			r.AddCell().SetString(v)
		}
	}
	require.NoError(t, f.Save(path))

	st := newFakeStore()
	rep := newTestEngine(nil, st, config.IngestConfig{}).IngestCSV(context.Background(), path)
	assert.False(t, rep.Aborted)
	require.Contains(t, st.opps, "X1")
	assert.Equal(t, "561720", st.opps["X1"].NAICSCode)
}

func TestIngestLeads(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(nil, st, config.IngestConfig{})

	leads := []normalize.WebLead{
		{Title: "Acme Roofing", URL: "https://www.acmeroofing.com/about", Snippet: "Commercial roofing", Query: "roofing contractor VA"},
		{Title: "Acme Roofing again", URL: "acmeroofing.com"},
		{Title: "No URL"},
	}
	rep := e.IngestLeads(context.Background(), leads)
	assert.Equal(t, 3, rep.Fetched)
	assert.Equal(t, 2, rep.Normalized)
	require.Len(t, st.contractors, 1)
	for id, c := range st.contractors {
		assert.True(t, strings.HasPrefix(id, "EXT-"))
		assert.False(t, c.Registered)
	}
}
