package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/capture-cli/internal/fetcher"
	"github.com/sells-group/capture-cli/internal/model"
	"github.com/sells-group/capture-cli/internal/normalize"
)

// File import defaults.
const (
	DefaultExtractBatch = 300
	DefaultCSVBatch     = 500
	// fileCharset is the encoding of SAM extract and export files.
	fileCharset = "latin1"
)

// IngestExtract imports a pipe-delimited entity extract. A .zip archive
// holding the single extract file is accepted.
func (e *Engine) IngestExtract(ctx context.Context, path string) Report {
	return e.tracked(ctx, "extract", func(ctx context.Context) Report {
		start := time.Now()
		log := e.log.With(zap.String("source", "extract"), zap.String("path", path))
		rep := Report{Source: "extract"}

		datPath, cleanup, err := unpack(path)
		if err != nil {
			rep.abort(err)
			return finish(log, rep, start)
		}
		defer cleanup()

		f, err := os.Open(datPath)
		if err != nil {
			rep.abort(eris.Wrap(err, "ingest: open extract"))
			return finish(log, rep, start)
		}
		defer f.Close() //nolint:errcheck

		r, err := fetcher.DecodeReader(f, fileCharset)
		if err != nil {
			rep.abort(err)
			return finish(log, rep, start)
		}

		size := orDefault(e.cfg.ExtractBatch, DefaultExtractBatch)
		batch := make([]model.Contractor, 0, size)
		flush := func() {
			persistBatches(ctx, log, &rep, size, batch, e.store.UpsertContractors)
			batch = batch[:0]
		}

		rows, errs := fetcher.StreamDelimited(ctx, r, "|")
		for cols := range rows {
			rep.Fetched++
			c, ok := e.norm.ExtractEntity(cols)
			if !ok {
				continue
			}
			rep.Normalized++
			batch = append(batch, c)
			if len(batch) >= size {
				flush()
			}
		}
		if err := <-errs; err != nil {
			rep.abort(err)
		}
		flush()
		return finish(log, rep, start)
	})
}

// IngestCSV imports an opportunity export (.csv or .xlsx). Pass one warms
// agency lookups and records NAICS/PSC reference codes; pass two writes
// opportunities followed by their contacts.
func (e *Engine) IngestCSV(ctx context.Context, path string) Report {
	return e.tracked(ctx, "csv", func(ctx context.Context) Report {
		start := time.Now()
		log := e.log.With(zap.String("source", "csv"), zap.String("path", path))
		rep := Report{Source: "csv"}

		// pass 1
		agencies := make(map[model.AgencyKey]struct{})
		codes := make(map[model.ReferenceCode]struct{})
		err := eachRow(ctx, path, func(row normalize.CSVRow) {
			if row.HasAgency() {
				agencies[row.AgencyKey().Normalize()] = struct{}{}
			}
			for _, c := range row.ReferenceCodes() {
				codes[c] = struct{}{}
			}
		})
		if err != nil {
			rep.abort(err)
			return finish(log, rep, start)
		}

		if res := e.norm.Resolver(); res != nil {
			keys := make([]model.AgencyKey, 0, len(agencies))
			for k := range agencies {
				keys = append(keys, k)
			}
			warmed := res.WarmAgencies(ctx, keys)
			log.Info("agency lookups warmed", zap.Int("agencies", len(keys)), zap.Int("resolved", warmed))
		}
		if len(codes) > 0 {
			refs := make([]model.ReferenceCode, 0, len(codes))
			for c := range codes {
				refs = append(refs, c)
			}
			if _, err := e.store.UpsertReferenceCodes(ctx, refs); err != nil {
				log.Warn("reference codes upsert failed", zap.Error(err))
			}
		}

		// pass 2
		size := orDefault(e.cfg.CSVBatch, DefaultCSVBatch)
		var opps []model.Opportunity
		var contacts []model.Contact
		flush := func() {
			if len(opps) == 0 {
				return
			}
			n, err := e.store.UpsertOpportunities(ctx, opps)
			if err != nil {
				rep.FailedBatches++
				log.Error("opportunity batch failed, dropping batch", zap.Int("batch_size", len(opps)), zap.Error(err))
			} else {
				rep.Upserted += n
				if len(contacts) > 0 {
					if _, err := e.store.UpsertContacts(ctx, contacts); err != nil {
						log.Warn("contact batch failed", zap.Int("contacts", len(contacts)), zap.Error(err))
					}
				}
			}
			opps, contacts = opps[:0], contacts[:0]
		}

		err = eachRow(ctx, path, func(row normalize.CSVRow) {
			rep.Fetched++
			o, cs, ok := e.norm.CSVOpportunity(ctx, row)
			if !ok {
				return
			}
			rep.Normalized++
			opps = append(opps, o)
			contacts = append(contacts, cs...)
			if len(opps) >= size {
				flush()
			}
		})
		if err != nil {
			rep.abort(err)
		}
		flush()
		return finish(log, rep, start)
	})
}

// IngestLeads normalizes discovered leads and upserts them as unregistered contractors.
func (e *Engine) IngestLeads(ctx context.Context, leads []normalize.WebLead) Report {
	return e.tracked(ctx, "web", func(ctx context.Context) Report {
		start := time.Now()
		log := e.log.With(zap.String("source", "web"))
		rep := Report{Source: "web", Fetched: len(leads)}

		var out []model.Contractor
		for _, l := range leads {
			if c, ok := e.norm.WebLead(l); ok {
				out = append(out, c)
			}
		}
		rep.Normalized = len(out)
		persistBatches(ctx, log, &rep, orDefault(e.cfg.BatchSize, DefaultBatchSize), out, e.store.UpsertContractors)
		return finish(log, rep, start)
	})
}

func finish(log *zap.Logger, rep Report, start time.Time) Report {
	rep.Skipped = rep.Fetched - rep.Normalized
	rep.Duration = time.Since(start)
	logReport(log, rep)
	return rep
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// unpack returns the path of the data file, extracting it from a ZIP archive
// into a temporary directory when needed.
func unpack(path string) (string, func(), error) {
	isZip, err := fetcher.IsZIP(path)
	if err != nil {
		return "", nil, err
	}
	if !isZip {
		return path, func() {}, nil
	}
	dir, err := os.MkdirTemp("", "capture-extract-*")
	if err != nil {
		return "", nil, eris.Wrap(err, "ingest: create temp dir")
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	out, err := fetcher.ExtractZIPSingle(path, dir)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return out, cleanup, nil
}

// eachRow streams a CSV or XLSX export as header-keyed rows.
func eachRow(ctx context.Context, path string, fn func(normalize.CSVRow)) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		idx := fetcher.HeaderIndex(rows[0])
		for _, r := range rows[1:] {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(normalize.CSVRow(fetcher.RowMap(idx, r)))
		}
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return eris.Wrap(err, "ingest: open csv")
	}
	defer f.Close() //nolint:errcheck

	r, err := fetcher.DecodeReader(f, fileCharset)
	if err != nil {
		return err
	}

	rows, errs := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{LazyQuotes: true})
	var idx map[string]int
	for row := range rows {
		if idx == nil {
			idx = fetcher.HeaderIndex(row)
			continue
		}
		fn(normalize.CSVRow(fetcher.RowMap(idx, row)))
	}
	return <-errs
}
