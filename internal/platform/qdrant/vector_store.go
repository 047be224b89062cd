package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/lifelogd/lifelog-backend/internal/platform/ctxutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
)

const maxErrorBodyBytes = 1024

// Payload fields carried by every point and the index schema each one needs.
const (
	FieldTimestamp   = "timestamp"
	FieldSource      = "source"
	FieldContentType = "content_type"
	FieldSourceID    = "source_id"
	FieldIsGroup     = "is_group"
	FieldSender      = "sender"
	FieldChatName    = "chat_name"
	FieldMessage     = "message"
)

type indexSpec struct {
	field  string
	schema any
}

func fulltextSchema(minLen, maxLen int) map[string]any {
	return map[string]any{
		"type":          "text",
		"tokenizer":     "multilingual",
		"min_token_len": minLen,
		"max_token_len": maxLen,
		"lowercase":     true,
	}
}

func payloadIndexes() []indexSpec {
	return []indexSpec{
		{field: FieldTimestamp, schema: "integer"},
		{field: FieldSource, schema: "keyword"},
		{field: FieldContentType, schema: "keyword"},
		{field: FieldSourceID, schema: "keyword"},
		{field: FieldIsGroup, schema: "bool"},
		{field: FieldSender, schema: fulltextSchema(2, 30)},
		{field: FieldChatName, schema: fulltextSchema(2, 30)},
		{field: FieldMessage, schema: fulltextSchema(2, 30)},
	}
}

type vectorStore struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type rawPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func NewStore(log *logger.Logger, cfg Config) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	s := &vectorStore{
		log:     log.With("service", "QdrantStore"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	log.Info(
		"qdrant vector store configured",
		"url", s.baseURL,
		"collection", cfg.Collection,
		"vector_dim", cfg.VectorDim,
	)
	return s, nil
}

func (s *vectorStore) EnsureCollection(ctx context.Context) error {
	const op = "ensure_collection"

	exists, err := s.collectionExists(ctx, op)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.createCollection(ctx, op); err != nil {
			return err
		}
	}
	return s.createIndexes(ctx, op)
}

func (s *vectorStore) Reset(ctx context.Context) error {
	const op = "reset"

	if err := s.doJSON(ctx, op, http.MethodDelete, s.collectionPath(""), nil, nil); err != nil {
		var opErrTyped *OperationError
		// A missing collection is fine; reset is also the first-boot path.
		if !(errors.As(err, &opErrTyped) && opErrTyped.StatusCode == http.StatusNotFound) {
			return err
		}
	}
	if err := s.createCollection(ctx, op); err != nil {
		return err
	}
	return s.createIndexes(ctx, op)
}

func (s *vectorStore) collectionExists(ctx context.Context, op string) (bool, error) {
	err := s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, nil)
	if err == nil {
		return true, nil
	}
	var opErrTyped *OperationError
	if errors.As(err, &opErrTyped) && opErrTyped.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (s *vectorStore) createCollection(ctx context.Context, op string) error {
	req := map[string]any{
		"vectors": map[string]any{
			"size":     s.cfg.VectorDim,
			"distance": "Cosine",
		},
	}
	return s.doJSON(ctx, op, http.MethodPut, s.collectionPath(""), req, nil)
}

func (s *vectorStore) createIndexes(ctx context.Context, op string) error {
	for _, idx := range payloadIndexes() {
		req := map[string]any{
			"field_name":   idx.field,
			"field_schema": idx.schema,
		}
		if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/index?wait=true"), req, nil); err != nil {
			// Re-creating an existing index is a no-op upstream; anything else aborts.
			var opErrTyped *OperationError
			if errors.As(err, &opErrTyped) && opErrTyped.StatusCode == http.StatusConflict {
				continue
			}
			return err
		}
	}
	return nil
}

func (s *vectorStore) Upsert(ctx context.Context, points []Point) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}

	raw := make([]map[string]any, 0, len(points))
	for _, p := range points {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return opErr(op, OperationErrorValidation, "point id is required", nil)
		}
		if len(p.Vector) == 0 {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("point %q has empty vector", id), nil)
		}
		if s.cfg.VectorDim > 0 && len(p.Vector) != s.cfg.VectorDim {
			return opErr(
				op,
				OperationErrorValidation,
				fmt.Sprintf("point %q dimension mismatch: expected=%d got=%d", id, s.cfg.VectorDim, len(p.Vector)),
				nil,
			)
		}
		raw = append(raw, map[string]any{
			"id":      id,
			"vector":  p.Vector,
			"payload": p.Payload,
		})
	}

	req := map[string]any{"points": raw}
	return s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil)
}

func (s *vectorStore) Query(ctx context.Context, vector []float32, filter *Filter, limit int) ([]ScoredPoint, error) {
	const op = "query"
	if len(vector) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if s.cfg.VectorDim > 0 && len(vector) != s.cfg.VectorDim {
		return nil, opErr(
			op,
			OperationErrorValidation,
			fmt.Sprintf("query vector dimension mismatch: expected=%d got=%d", s.cfg.VectorDim, len(vector)),
			nil,
		)
	}
	if limit <= 0 {
		limit = 10
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if fm := filter.asMap(); fm != nil {
		req["filter"] = fm
	}

	var rawResults []rawPoint
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), req, &rawResults); err != nil {
		return nil, err
	}
	return decodePoints(rawResults), nil
}

func (s *vectorStore) Scroll(ctx context.Context, sreq ScrollRequest) ([]ScoredPoint, any, error) {
	const op = "scroll"
	limit := sreq.Limit
	if limit <= 0 {
		limit = 100
	}

	req := map[string]any{
		"limit":        limit,
		"with_payload": sreq.WithPayload,
		"with_vector":  sreq.WithVectors,
	}
	if fm := sreq.Filter.asMap(); fm != nil {
		req["filter"] = fm
	}
	if sreq.Offset != nil {
		req["offset"] = sreq.Offset
	}
	if sreq.OrderBy != nil {
		req["order_by"] = map[string]any{
			"key":       sreq.OrderBy.Key,
			"direction": string(sreq.OrderBy.Direction),
		}
	}

	var result struct {
		Points         []rawPoint      `json:"points"`
		NextPageOffset json.RawMessage `json:"next_page_offset"`
	}
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/scroll"), req, &result); err != nil {
		return nil, nil, err
	}

	var next any
	if len(result.NextPageOffset) > 0 && string(result.NextPageOffset) != "null" {
		_ = json.Unmarshal(result.NextPageOffset, &next)
	}
	return decodePoints(result.Points), next, nil
}

func (s *vectorStore) Count(ctx context.Context, filter *Filter) (int, error) {
	const op = "count"

	req := map[string]any{"exact": true}
	if fm := filter.asMap(); fm != nil {
		req["filter"] = fm
	}

	var result struct {
		Count int `json:"count"`
	}
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/count"), req, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

func (s *vectorStore) Delete(ctx context.Context, filter *Filter) error {
	const op = "delete"
	if filter.IsEmpty() {
		return opErr(op, OperationErrorValidation, "refusing to delete without a filter", nil)
	}
	req := map[string]any{"filter": filter.asMap()}
	return s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil)
}

// PointExists is the dedup predicate: a filtered scroll with limit 1 and no
// payload or vectors.
func (s *vectorStore) PointExists(ctx context.Context, sourceID string) (bool, error) {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return false, nil
	}
	points, _, err := s.Scroll(ctx, ScrollRequest{
		Filter:      (&Filter{}).And(Match(FieldSourceID, sourceID)),
		Limit:       1,
		WithPayload: false,
		WithVectors: false,
	})
	if err != nil {
		return false, err
	}
	return len(points) > 0, nil
}

func decodePoints(raw []rawPoint) []ScoredPoint {
	out := make([]ScoredPoint, 0, len(raw))
	for _, item := range raw {
		id := decodePointID(item.ID)
		if id == "" {
			continue
		}
		out = append(out, ScoredPoint{
			ID:      id,
			Score:   item.Score,
			Payload: item.Payload,
		})
	}
	return out
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(raw))
}

func (s *vectorStore) collectionPath(suffix string) string {
	return "/collections/" + s.cfg.Collection + suffix
}

func (s *vectorStore) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil {
		return nil
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") || strings.EqualFold(statusString, "acknowledged") || strings.EqualFold(statusString, "completed") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}

	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
