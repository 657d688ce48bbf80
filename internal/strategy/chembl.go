package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/l0p7/netpharm/internal/table"
)

// ChEMBLOptions configures the ChEMBL target prediction strategy.
type ChEMBLOptions struct {
	// PredictionURL receives POST {"smiles": ...} and answers with a JSON
	// array of per-target predictions.
	PredictionURL string
	// UniProtURL is the UniProt REST root used for ChEMBL id mapping.
	UniProtURL     string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	Client         *http.Client
	Logger         *slog.Logger
}

// ChEMBLTargets predicts human targets for a SMILES string with the ChEMBL
// multi-task model and maps the predicted target ids to gene names through
// UniProt.
type ChEMBLTargets struct {
	predictionURL string
	uniprotURL    string
	poll          time.Duration
	client        *http.Client
	logger        *slog.Logger
}

func NewChEMBLTargets(opts ChEMBLOptions) *ChEMBLTargets {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.Client
	if client == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 3 * time.Second
	}
	return &ChEMBLTargets{
		predictionURL: opts.PredictionURL,
		uniprotURL:    strings.TrimRight(opts.UniProtURL, "/"),
		poll:          poll,
		client:        client,
		logger:        logger.With(slog.String("strategy", "ChEMBL"), slog.String("phase", "targets")),
	}
}

func (s *ChEMBLTargets) Name() string { return "ChEMBL" }

type chemblPrediction struct {
	TargetChEMBLID string `json:"target_chemblid"`
	Organism       string `json:"organism"`
	Active80       string `json:"80%"`
}

func (s *ChEMBLTargets) Query(ctx context.Context, smiles string) (table.Table, error) {
	payload, err := json.Marshal(map[string]string{"smiles": smiles})
	if err != nil {
		return table.Table{}, fmt.Errorf("chembl: encode request: %w", err)
	}
	var predictions []chemblPrediction
	if err := s.doJSON(ctx, http.MethodPost, s.predictionURL, "application/json", bytes.NewReader(payload), &predictions, nil); err != nil {
		return table.Table{}, fmt.Errorf("chembl: predictions: %w", err)
	}

	var (
		active []chemblPrediction
		ids    []string
		seen   = map[string]struct{}{}
	)
	for _, p := range predictions {
		if p.Organism != "Homo sapiens" || p.Active80 != "active" {
			continue
		}
		active = append(active, p)
		if _, ok := seen[p.TargetChEMBLID]; !ok {
			seen[p.TargetChEMBLID] = struct{}{}
			ids = append(ids, p.TargetChEMBLID)
		}
	}
	out := table.Table{Columns: []string{"smiles", "target_chemblid", "organism", "gene_name", "source"}, Rows: []table.Row{}}
	if len(active) == 0 {
		s.logger.Debug("no active human targets predicted", slog.String("smiles", smiles))
		return out, nil
	}

	genes, err := s.mapToGenes(ctx, ids)
	if err != nil {
		return table.Table{}, fmt.Errorf("chembl: uniprot mapping: %w", err)
	}
	for _, p := range active {
		names := genes[p.TargetChEMBLID]
		if len(names) == 0 {
			names = []string{""}
		}
		for _, gene := range names {
			var geneValue any
			if gene != "" {
				geneValue = gene
			}
			out.Rows = append(out.Rows, table.Row{
				"smiles":          smiles,
				"target_chemblid": p.TargetChEMBLID,
				"organism":        p.Organism,
				"gene_name":       geneValue,
				"source":          "chembl",
			})
		}
	}
	return out, nil
}

func (s *ChEMBLTargets) Normalize(raw table.Table) table.Table {
	return table.TargetSchema.Project(raw, map[string]string{"gene_name": "targets"})
}

type uniprotJob struct {
	JobID string `json:"jobId"`
}

type uniprotStatus struct {
	JobStatus string            `json:"jobStatus"`
	Results   []json.RawMessage `json:"results"`
	FailedIDs []string          `json:"failedIds"`
}

type uniprotDetails struct {
	RedirectURL string `json:"redirectURL"`
}

type uniprotResults struct {
	Results []struct {
		From string `json:"from"`
		To   struct {
			PrimaryAccession string `json:"primaryAccession"`
			Genes            []struct {
				GeneName struct {
					Value string `json:"value"`
				} `json:"geneName"`
			} `json:"genes"`
		} `json:"to"`
	} `json:"results"`
}

// mapToGenes runs a UniProt ChEMBL to UniProtKB id-mapping job and returns the
// primary gene name of every mapped entry keyed by ChEMBL id.
func (s *ChEMBLTargets) mapToGenes(ctx context.Context, ids []string) (map[string][]string, error) {
	form := url.Values{"from": {"ChEMBL"}, "to": {"UniProtKB"}, "ids": {strings.Join(ids, ",")}}
	var job uniprotJob
	if err := s.doJSON(ctx, http.MethodPost, s.uniprotURL+"/idmapping/run", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &job, nil); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	if job.JobID == "" {
		return nil, errors.New("submit: empty job id")
	}

	ready, err := s.waitForJob(ctx, job.JobID)
	if err != nil {
		return nil, err
	}
	genes := make(map[string][]string)
	if !ready {
		return genes, nil
	}

	var details uniprotDetails
	if err := s.doJSON(ctx, http.MethodGet, s.uniprotURL+"/idmapping/details/"+url.PathEscape(job.JobID), "", nil, &details, nil); err != nil {
		return nil, fmt.Errorf("details: %w", err)
	}
	next := details.RedirectURL
	for next != "" {
		var page uniprotResults
		var header http.Header
		if err := s.doJSON(ctx, http.MethodGet, next, "", nil, &page, &header); err != nil {
			return nil, fmt.Errorf("results: %w", err)
		}
		for _, r := range page.Results {
			if len(r.To.Genes) == 0 || r.To.Genes[0].GeneName.Value == "" {
				genes[r.From] = append(genes[r.From], "")
				continue
			}
			genes[r.From] = append(genes[r.From], r.To.Genes[0].GeneName.Value)
		}
		next = nextLink(header.Get("Link"))
	}
	return genes, nil
}

// waitForJob polls the job status until results are available. It reports
// false when the job finished without results or failed ids.
func (s *ChEMBLTargets) waitForJob(ctx context.Context, jobID string) (bool, error) {
	statusURL := s.uniprotURL + "/idmapping/status/" + url.PathEscape(jobID)
	for {
		var status uniprotStatus
		if err := s.doJSON(ctx, http.MethodGet, statusURL, "", nil, &status, nil); err != nil {
			return false, fmt.Errorf("status: %w", err)
		}
		switch status.JobStatus {
		case "":
			return len(status.Results) > 0 || len(status.FailedIDs) > 0, nil
		case "RUNNING", "NEW":
			s.logger.Debug("uniprot job pending", slog.String("job", jobID), slog.Duration("retry_in", s.poll))
		default:
			return false, fmt.Errorf("status: job %s %s", jobID, status.JobStatus)
		}
		timer := time.NewTimer(s.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *ChEMBLTargets) doJSON(ctx context.Context, method, target, contentType string, body io.Reader, out any, header *http.Header) error {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", nextUserAgent())
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, target, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if header != nil {
		*header = resp.Header
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}

var nextLinkPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

func nextLink(header string) string {
	if m := nextLinkPattern.FindStringSubmatch(header); m != nil {
		return m[1]
	}
	return ""
}
