package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pamdocs/docpipe/internal/classify"
	"github.com/pamdocs/docpipe/internal/common"
)

// Classify implements classify.Classifier using text-only chat/completions.
func (c *Client) Classify(ctx context.Context, req classify.Request) (classify.Classification, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Infow("classify.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"text_len", len(req.Text),
		"pages", req.PagesCount,
	)

	schema := classify.BuildClassificationJSONSchema()
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": buildSystemPrompt()},
			{"role": "user", "content": buildUserPrompt(req) + "\n\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, httpErr := c.post(ctx, endpoint, body)
	if httpErr != nil {
		c.log.Errorw("classify.http_error",
			"req_id", rid, "err", httpErr,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return classify.Classification{}, nil, fmt.Errorf("%w: %v", common.ErrClassification, httpErr)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Errorw("classify.decode_error", "req_id", rid, "err", err, "raw_bytes", len(raw))
		return classify.Classification{}, raw, fmt.Errorf("%w: decode response: %v", common.ErrClassification, err)
	}
	if len(cc.Choices) == 0 {
		c.log.Errorw("classify.no_choices", "req_id", rid, "raw", string(raw))
		return classify.Classification{}, raw, fmt.Errorf("%w: no choices in response", common.ErrClassification)
	}
	rawContent := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))

	// Validate strictly first.
	if err := classify.ValidateJSONAgainstSchema(schema, rawContent); err != nil {
		if !c.cfg.LenientOptional {
			c.log.Errorw("classify.schema_validation_failed", "req_id", rid, "err", err, "content", string(rawContent))
			return classify.Classification{}, rawContent, fmt.Errorf("%w: schema validation: %v", common.ErrClassification, err)
		}
		// Lenient sanitize: drop/normalize optional offenders and re-validate.
		cleaned, droppedKeys, sErr := classify.SanitizeOptionalFields(rawContent)
		if sErr != nil {
			c.log.Errorw("classify.sanitize_failed", "req_id", rid, "err", sErr)
			return classify.Classification{}, rawContent, fmt.Errorf("%w: sanitize: %v", common.ErrClassification, sErr)
		}
		if vErr := classify.ValidateJSONAgainstSchema(schema, cleaned); vErr != nil {
			c.log.Errorw("classify.schema_validation_failed", "req_id", rid, "err", vErr, "content", string(cleaned))
			return classify.Classification{}, rawContent, fmt.Errorf("%w: schema validation: %v", common.ErrClassification, vErr)
		}
		c.log.Warnw("classify.lenient_sanitize_applied", "req_id", rid, "dropped", droppedKeys)
		rawContent = cleaned
	}

	var out classify.Classification
	if err := json.Unmarshal(rawContent, &out); err != nil {
		c.log.Errorw("classify.unmarshal_failed", "req_id", rid, "err", err)
		return classify.Classification{}, rawContent, fmt.Errorf("%w: unmarshal fields: %v", common.ErrClassification, err)
	}
	if out.PagesCount == 0 {
		out.PagesCount = req.PagesCount
	}

	c.log.Infow("classify.ok",
		"req_id", rid,
		"category", out.Category,
		"dates", len(out.RelevantDates),
		"contacts", len(out.Contact),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, rawContent, nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai http error: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Warnw("openai response body close error", "err", cerr)
		}
	}()

	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openai status %d: %s", resp.StatusCode, buf.String())
	}
	return buf.Bytes(), nil
}

func buildSystemPrompt() string {
	parts := []string{
		"You are a document archivist. Return ONLY JSON that matches the JSON Schema provided.",
		"Write 'summary' as 2-3 plain sentences describing what the document is and what it says.",
		"Write 'classification' as a short noun phrase naming the document kind (e.g. 'utility bill', 'lease agreement').",
		"Pick 'category' strictly from the enum: " + strings.Join(classify.Categories, ", ") + ".",
		"List every date that matters to the document's purpose under 'relevant_dates' as ISO-8601 (YYYY-MM-DD).",
		"List names, phone numbers and email addresses of involved parties under 'contact'.",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(parts, " ")
}

func buildUserPrompt(req classify.Request) string {
	var b strings.Builder
	if req.FilenameHint != "" {
		b.WriteString("Filename: ")
		b.WriteString(req.FilenameHint)
		b.WriteString("\n")
	}
	if req.PagesCount > 0 {
		fmt.Fprintf(&b, "Pages: %d\n", req.PagesCount)
	}
	b.WriteString("\nDocument text (first ~6k chars):\n")
	if len(req.Text) > 6000 {
		b.WriteString(req.Text[:6000])
	} else {
		b.WriteString(req.Text)
	}
	return b.String()
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
