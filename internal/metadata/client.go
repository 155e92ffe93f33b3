// Package metadata fetches checklist field definitions from the checklist
// API.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JonMunkholm/checkin/internal/core"
)

const defaultTimeout = 30 * time.Second

// Client reads checklists from GET {baseURL}/checklist/{id}.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient returns a Client. The token is sent as a bearer token.
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("METADATA_BASE_URL is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// score decodes a JSON number or a numeric string. Empty strings and null
// decode to zero. Anything else is kept as text in bad so the scorer can
// reject that one field.
type score struct {
	value float64
	bad   string
}

func (sc *score) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	if s == "" || s == "null" {
		*sc = score{}
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*sc = score{bad: string(b)}
		return nil
	}
	*sc = score{value: f}
	return nil
}

// operand keeps a rule threshold as text whether it was sent as a number
// or a string.
type operand string

func (o *operand) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*o = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*o = operand(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("threshold is neither text nor number: %s", b)
	}
	*o = operand(n.String())
	return nil
}

type question struct {
	ID            string `json:"_id"`
	Type          string `json:"type"`
	Title         string `json:"title"`
	AnswerOptions []struct {
		Name  string `json:"name"`
		Score score  `json:"score"`
	} `json:"answerOptions"`
	ScoreOptions []struct {
		Condition string  `json:"condition"`
		Count     operand `json:"count"`
		Score     score   `json:"score"`
	} `json:"scoreOptions"`
}

type checklistResponse struct {
	Data struct {
		Page []struct {
			Sections []struct {
				Questions []question `json:"questions"`
			} `json:"sections"`
		} `json:"page"`
	} `json:"data"`
	Message string `json:"message,omitempty"`
}

// Fields returns the questions of a checklist in page, section and
// question order.
func (c *Client) Fields(ctx context.Context, checklistID string) ([]core.FieldDefinition, error) {
	url := c.baseURL + "/checklist/" + checklistID

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata request: %v", core.ErrMetadata, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: metadata request: %v", core.ErrMetadata, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: metadata request: read body: %v", core.ErrMetadata, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: metadata request: checklist %s: status %d: %s",
			core.ErrMetadata, checklistID, resp.StatusCode, snippet(body))
	}

	var parsed checklistResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode checklist %s: %v", core.ErrMetadata, checklistID, err)
	}

	var defs []core.FieldDefinition
	for _, page := range parsed.Data.Page {
		for _, section := range page.Sections {
			for _, q := range section.Questions {
				defs = append(defs, q.definition())
			}
		}
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: checklist %s has no questions", core.ErrMetadata, checklistID)
	}
	return defs, nil
}

func (q question) definition() core.FieldDefinition {
	def := core.FieldDefinition{
		ID:      q.ID,
		Type:    core.ParseFieldType(q.Type),
		TypeTag: q.Type,
		Title:   q.Title,
	}
	for _, o := range q.AnswerOptions {
		def.Options = append(def.Options, core.Option{Name: o.Name, Score: o.Score.value, BadScore: o.Score.bad})
	}
	for _, s := range q.ScoreOptions {
		def.Rules = append(def.Rules, core.ScoreRule{
			Condition: core.ParseCondition(s.Condition),
			Raw:       s.Condition,
			Threshold: string(s.Count),
			Score:     s.Score.value,
			BadScore:  s.Score.bad,
		})
	}
	return def
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= 200 {
		return s
	}
	cut := 200
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
