package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/l0p7/netpharm/internal/reference"
	"github.com/l0p7/netpharm/internal/table"
)

const (
	// MinOralBioavailability is the TCMSP ADME screening threshold (percent).
	MinOralBioavailability = 30.0
	// MinDrugLikeness is the TCMSP ADME screening threshold.
	MinDrugLikeness = 0.18
)

// TCMSPComponentsOptions configures the herb ingredient scraper.
type TCMSPComponentsOptions struct {
	// BaseURL is the TCMSP site root, for example https://old.tcmsp-e.com.
	BaseURL string
	// Molecules names the molecule reference table joined on MOL_ID.
	Molecules string
	Scraper   ScraperOptions
	Store     *reference.Store
	Logger    *slog.Logger
}

// TCMSPComponents resolves a herb to its ingredients by scraping the TCMSP
// herb pages and enriching each MOL_ID from the bundled molecule table.
type TCMSPComponents struct {
	baseURL   string
	molecules string
	scraper   *scraper
	store     *reference.Store
	logger    *slog.Logger
}

func NewTCMSPComponents(opts TCMSPComponentsOptions) *TCMSPComponents {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TCMSPComponents{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		molecules: opts.Molecules,
		scraper:   newScraper(opts.Scraper),
		store:     opts.Store,
		logger:    logger.With(slog.String("strategy", "TCMSP"), slog.String("phase", "components")),
	}
}

func (s *TCMSPComponents) Name() string { return "TCMSP" }

func (s *TCMSPComponents) Query(ctx context.Context, herb string) (table.Table, error) {
	home, err := s.scraper.page(ctx, s.baseURL+"/tcmsp.php")
	if err != nil {
		return table.Table{}, fmt.Errorf("tcmsp: home: %w", err)
	}
	token, _ := home.Find(`input[name="token"]`).First().Attr("value")

	search := url.Values{"qs": {"herb_all_name"}, "q": {herb}, "token": {token}}
	results, err := s.scraper.page(ctx, s.baseURL+"/tcmspsearch.php?"+search.Encode())
	if err != nil {
		return table.Table{}, fmt.Errorf("tcmsp: search %q: %w", herb, err)
	}
	herbs, err := gridData(results, "script", "herb_en_name")
	if err != nil {
		if errors.Is(err, errNoGridData) {
			s.logger.Info("herb not found", slog.String("herb", herb))
			return table.Table{}, nil
		}
		return table.Table{}, fmt.Errorf("tcmsp: search %q: %w", herb, err)
	}
	english := table.String(herbs[0]["herb_en_name"])

	detail := url.Values{"qr": {english}, "qsr": {"herb_en_name"}, "token": {token}}
	page, err := s.scraper.page(ctx, s.baseURL+"/tcmspsearch.php?"+detail.Encode())
	if err != nil {
		return table.Table{}, fmt.Errorf("tcmsp: herb %q: %w", english, err)
	}
	ingredients, err := gridData(page, "#tabstrip script", "MOL_ID")
	if err != nil {
		if errors.Is(err, errNoGridData) {
			s.logger.Info("herb has no ingredients", slog.String("herb", herb), slog.String("match", english))
			return table.Table{}, nil
		}
		return table.Table{}, fmt.Errorf("tcmsp: herb %q ingredients: %w", english, err)
	}

	scraped := ingredientTable(ingredients)
	return s.enrich(scraped)
}

// enrich inner-joins the scraped MOL_IDs with the molecule reference table.
// Without a reference table the scraped rows are returned as they are.
func (s *TCMSPComponents) enrich(scraped table.Table) (table.Table, error) {
	if s.store == nil || s.molecules == "" {
		return scraped, nil
	}
	molecules, err := s.store.Load(s.molecules)
	if err != nil {
		if errors.Is(err, reference.ErrNotFound) {
			s.logger.Warn("molecule table missing, using scraped ingredient data", slog.Any("error", err))
			return scraped, nil
		}
		return table.Table{}, fmt.Errorf("tcmsp: molecules: %w", err)
	}
	key := firstColumn(molecules, "MOL_ID", "molecule_ID")
	if key == "" {
		return table.Table{}, fmt.Errorf("tcmsp: molecules table has no MOL_ID column")
	}
	byID := make(map[string][]table.Row, molecules.Len())
	for _, row := range molecules.Rows {
		id := table.String(row[key])
		byID[id] = append(byID[id], row)
	}
	out := table.Table{Columns: append([]string{"MOL_ID"}, molecules.Columns...), Rows: []table.Row{}}
	for _, ingredient := range scraped.Rows {
		id := table.String(ingredient["MOL_ID"])
		for _, match := range byID[id] {
			row := make(table.Row, len(match)+1)
			for k, v := range match {
				row[k] = v
			}
			row["MOL_ID"] = id
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

func (s *TCMSPComponents) Normalize(raw table.Table) table.Table {
	return table.ComponentSchema.Project(raw, map[string]string{
		"molecule_name": "component_name",
		"ob":            "oral_bioavailability",
		"dl":            "drug_likeness",
	})
}

// PostProcess coerces the ADME columns to numbers and keeps the components
// passing both screening thresholds. Values that cannot be coerced are
// logged and the row is dropped.
func (s *TCMSPComponents) PostProcess(t table.Table) table.Table {
	coerced := t.Clone()
	for _, row := range coerced.Rows {
		for _, col := range table.ComponentSchema.Numeric {
			if row[col] == nil {
				continue
			}
			v, err := table.ToFloat(row[col])
			if err != nil {
				s.logger.Warn("numeric coercion failed",
					slog.String("column", col),
					slog.Any("component", row["component_name"]),
					slog.Any("error", err),
				)
				row[col] = nil
				continue
			}
			row[col] = v
		}
	}
	return coerced.Filter(func(row table.Row) bool {
		dl, okDL := row["drug_likeness"].(float64)
		ob, okOB := row["oral_bioavailability"].(float64)
		return okDL && okOB && dl >= MinDrugLikeness && ob >= MinOralBioavailability
	})
}

func ingredientTable(items []map[string]any) table.Table {
	columns := []string{}
	seen := map[string]struct{}{}
	rows := make([]table.Row, 0, len(items))
	for _, item := range items {
		row := make(table.Row, len(item))
		for k, v := range item {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				columns = append(columns, k)
			}
			switch value := v.(type) {
			case string, float64, nil:
				row[k] = value
			default:
				row[k] = table.String(value)
			}
		}
		rows = append(rows, row)
	}
	slices.Sort(columns)
	return table.Table{Columns: columns, Rows: rows}
}

func firstColumn(t table.Table, candidates ...string) string {
	for _, name := range candidates {
		if t.HasColumn(name) {
			return name
		}
	}
	return ""
}
