package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/civitaslab/demandgen/internal/models"
)

const defaultHTTPTimeout = 5 * time.Minute

// HTTPGenerator calls a content-generator service over HTTP. The service
// receives the item's prefilled spec and plan context and responds with the
// persisted draft entity.
type HTTPGenerator struct {
	url    string
	client *http.Client
}

// NewHTTPGenerator returns a generator posting to the given endpoint.
func NewHTTPGenerator(url string) *HTTPGenerator {
	return &HTTPGenerator{
		url:    url,
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

type generateRequest struct {
	EntityType    string          `json:"entity_type"`
	PrefilledSpec json.RawMessage `json:"prefilled_spec"`
	Plan          PlanContext     `json:"plan"`
}

// Generate implements Generator.
func (g *HTTPGenerator) Generate(ctx context.Context, item *models.QueueItem, plan PlanContext) (*DraftEntity, error) {
	req := generateRequest{
		EntityType:    item.EntityType,
		PrefilledSpec: json.RawMessage(item.PrefilledSpec),
		Plan:          plan,
	}
	var draft DraftEntity
	if err := postJSON(ctx, g.client, g.url, req, &draft); err != nil {
		return nil, fmt.Errorf("batch: generate %s: %w", item.EntityType, err)
	}
	if draft.EntityID == "" {
		return nil, fmt.Errorf("batch: generate %s: response missing entity_id", item.EntityType)
	}
	return &draft, nil
}

// HTTPAssessor calls the quality-assessment service over HTTP.
type HTTPAssessor struct {
	url    string
	client *http.Client
}

// NewHTTPAssessor returns an assessor posting to the given endpoint.
func NewHTTPAssessor(url string) *HTTPAssessor {
	return &HTTPAssessor{
		url:    url,
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

type assessRequest struct {
	EntityType string       `json:"entity_type"`
	Draft      *DraftEntity `json:"draft"`
	ItemID     string       `json:"item_id"`
}

// Assess implements Assessor.
func (a *HTTPAssessor) Assess(ctx context.Context, entityType string, draft *DraftEntity, item *models.QueueItem) (*Assessment, error) {
	req := assessRequest{EntityType: entityType, Draft: draft, ItemID: item.ID}
	var assessment Assessment
	if err := postJSON(ctx, a.client, a.url, req, &assessment); err != nil {
		return nil, fmt.Errorf("batch: assess %s: %w", entityType, err)
	}
	if assessment.OverallScore < 0 || assessment.OverallScore > 100 {
		return nil, fmt.Errorf("batch: assess %s: score %d out of range", entityType, assessment.OverallScore)
	}
	return &assessment, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
