// Package scheduler implements the cron poll loop (C7): routing a due job's
// command string to the ingestion pipeline, trend aggregation, X/RSS polling,
// the agent plan executor, or a direct shell, under the security policy's
// gate, with retry/backoff and agent-queue recovery.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/asteroniris-dev/asteroniris/internal/memory"
	"github.com/asteroniris-dev/asteroniris/internal/security"
)

func decodeJSON(resp *http.Response, v interface{}) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

const (
	routeMarkerUserShell        = "route=user-direct-shell"
	routeMarkerAgentBlocked     = "route=agent-no-direct-shell"
	routeMarkerAgentPlanner     = "route=agent-planner"
	routeMarkerIngestPipeline   = "route=user-ingestion-pipeline"
	routeMarkerTrendAggregation = "route=user-trend-aggregation"
	routeMarkerXPoll            = "route=user-x-poll"
	routeMarkerRSSPoll          = "route=user-rss-poll"

	trendAggregationLimit    = 20
	trendAggregationTopItems = 5
	ingestAPIMinInterval     = 10 * time.Second
	ingestRSSMinInterval     = 30 * time.Second
	xRecentSearchEndpoint    = "https://api.twitter.com/2/tweets/search/recent"
	rssPollItemLimit         = 10
)

var (
	ingestSourceLastSeenMu sync.Mutex
	ingestSourceLastSeen   = map[string]time.Time{}
)

type parsedIngestionJob struct {
	sourceKind memory.SourceKind
	entityID   string
	sourceRef  string
	content    string
}

type parsedTrendAggregationJob struct {
	entityID string
	topicKey string
	query    string
}

type parsedXPollJob struct {
	entityID string
	query    string
}

type parsedRSSPollJob struct {
	entityID string
	url      string
}

// routedJob is the result of recognizing one of the ingest:* command
// prefixes; a plain command (including plan: for agent jobs) is not routed
// here and falls through to the shell/plan paths in scheduler.go.
type routedJob struct {
	ingestion        *parsedIngestionJob
	trendAggregation *parsedTrendAggregationJob
	xPoll            *parsedXPollJob
	rssPoll          *parsedRSSPollJob
}

func normalizeTrendTopicKey(raw string) string {
	var b strings.Builder
	lastDot := false
	for _, ch := range strings.TrimSpace(raw) {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '_', ch == '-':
			b.WriteRune(toLowerASCII(ch))
			lastDot = false
		case !lastDot:
			b.WriteByte('.')
			lastDot = true
		}
	}
	return strings.Trim(b.String(), ".")
}

func toLowerASCII(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

// parseRoutedJobCommand recognizes the ingest:* prefixes documented in the
// scheduler's routing table. It returns a zero routedJob and false for anything else
// (including plan: and bare shell commands).
func parseRoutedJobCommand(command string) (routedJob, bool) {
	trimmed := strings.TrimSpace(command)

	switch {
	case strings.HasPrefix(trimmed, "ingest:api "):
		return parseIngestionCommand(trimmed[len("ingest:api "):], memory.SourceKindAPI, "")
	case strings.HasPrefix(trimmed, "ingest:x "):
		return parseIngestionCommand(trimmed[len("ingest:x "):], memory.SourceKindAPI, "x:")
	case strings.HasPrefix(trimmed, "ingest:rss "):
		return parseIngestionCommand(trimmed[len("ingest:rss "):], memory.SourceKindNews, "")
	case strings.HasPrefix(trimmed, "ingest:x-poll "):
		return parseXPollCommand(trimmed[len("ingest:x-poll "):])
	case strings.HasPrefix(trimmed, "ingest:rss-poll "):
		return parseRSSPollCommand(trimmed[len("ingest:rss-poll "):])
	case strings.HasPrefix(trimmed, "ingest:trend "):
		return parseTrendCommand(trimmed[len("ingest:trend "):])
	default:
		return routedJob{}, false
	}
}

func splitN(rest string, n int) []string {
	return strings.SplitN(rest, " ", n)
}

func parseIngestionCommand(rest string, kind memory.SourceKind, refPrefix string) (routedJob, bool) {
	parts := splitN(rest, 3)
	if len(parts) != 3 {
		return routedJob{}, false
	}
	entityID, sourceRef, content := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2])
	if entityID == "" || sourceRef == "" || content == "" {
		return routedJob{}, false
	}
	return routedJob{ingestion: &parsedIngestionJob{
		sourceKind: kind, entityID: entityID, sourceRef: refPrefix + sourceRef, content: content,
	}}, true
}

func parseXPollCommand(rest string) (routedJob, bool) {
	parts := splitN(rest, 2)
	if len(parts) != 2 {
		return routedJob{}, false
	}
	entityID, query := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if entityID == "" || query == "" {
		return routedJob{}, false
	}
	return routedJob{xPoll: &parsedXPollJob{entityID: entityID, query: query}}, true
}

func parseRSSPollCommand(rest string) (routedJob, bool) {
	parts := splitN(rest, 2)
	if len(parts) != 2 {
		return routedJob{}, false
	}
	entityID, url := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if entityID == "" || url == "" {
		return routedJob{}, false
	}
	return routedJob{rssPoll: &parsedRSSPollJob{entityID: entityID, url: url}}, true
}

func parseTrendCommand(rest string) (routedJob, bool) {
	parts := splitN(rest, 3)
	if len(parts) != 3 {
		return routedJob{}, false
	}
	entityID := strings.TrimSpace(parts[0])
	topicKey := normalizeTrendTopicKey(parts[1])
	query := strings.TrimSpace(parts[2])
	if entityID == "" || topicKey == "" || query == "" {
		return routedJob{}, false
	}
	return routedJob{trendAggregation: &parsedTrendAggregationJob{entityID: entityID, topicKey: topicKey, query: query}}, true
}

func ingestionMinInterval(kind memory.SourceKind) time.Duration {
	if kind == memory.SourceKindNews {
		return ingestRSSMinInterval
	}
	return ingestAPIMinInterval
}

// checkAndRecordIngestionRateLimit is a process-local tracker distinct from
// memory.Store's own ingest cooldown: it exists so a job that never reaches
// the memory store (e.g. rejected earlier) still rate-limits by source_ref.
func checkAndRecordIngestionRateLimit(job *parsedIngestionJob) time.Duration {
	key := string(job.sourceKind) + ":" + job.sourceRef
	now := time.Now().UTC()
	interval := ingestionMinInterval(job.sourceKind)

	ingestSourceLastSeenMu.Lock()
	defer ingestSourceLastSeenMu.Unlock()
	previous, ok := ingestSourceLastSeen[key]
	if !ok || now.Sub(previous) >= interval {
		ingestSourceLastSeen[key] = now
		return 0
	}
	return interval - now.Sub(previous)
}

func consumeSecurityOrOutput(policy *security.Policy, entityID, routeMarker string) (bool, string, bool) {
	if err := policy.ConsumeActionAndCost(entityID, 0); err != nil {
		return false, fmt.Sprintf("%s\nblocked by security policy: %s", routeMarker, err), true
	}
	return false, "", false
}

func runIngestionJobCommand(ctx context.Context, mem *memory.Store, policy *security.Policy, job *parsedIngestionJob) (bool, string) {
	if wait := checkAndRecordIngestionRateLimit(job); wait > 0 {
		return false, fmt.Sprintf("%s\naccepted=false\nreason=rate_limited\nwait_seconds=%.0f", routeMarkerIngestPipeline, wait.Seconds())
	}
	if success, output, blocked := consumeSecurityOrOutput(policy, job.entityID, routeMarkerIngestPipeline); blocked {
		return success, output
	}

	result, err := mem.Ingest(memory.SignalEnvelope{
		SourceKind: job.sourceKind, SourceRef: job.sourceRef, Content: job.content,
		EntityID: job.entityID, Privacy: memory.PrivacyPrivate,
	})
	if err != nil {
		return false, fmt.Sprintf("%s\ningestion failed: %v", routeMarkerIngestPipeline, err)
	}
	reason := result.Reason
	if reason == "" {
		reason = "none"
	}
	return result.Accepted, fmt.Sprintf("%s\naccepted=%t\nslot_key=%s\nreason=%s", routeMarkerIngestPipeline, result.Accepted, result.SlotKey, reason)
}

func runTrendAggregationJobCommand(_ context.Context, mem *memory.Store, policy *security.Policy, job *parsedTrendAggregationJob) (bool, string) {
	if success, output, blocked := consumeSecurityOrOutput(policy, job.entityID, routeMarkerTrendAggregation); blocked {
		return success, output
	}

	recalled, err := mem.RecallScoped(memory.RecallQuery{EntityID: job.entityID, Query: job.query, Limit: trendAggregationLimit})
	if err != nil {
		return false, fmt.Sprintf("%s\nrecall_scoped failed: %v", routeMarkerTrendAggregation, err)
	}

	var candidates []memory.RecallItem
	for _, item := range recalled {
		if strings.HasPrefix(item.SlotKey, "external.") {
			candidates = append(candidates, item)
		}
		if len(candidates) >= trendAggregationTopItems {
			break
		}
	}
	if len(candidates) == 0 {
		return true, fmt.Sprintf("%s\naccepted=false\nreason=no_external_candidates", routeMarkerTrendAggregation)
	}

	slotKey := "trend.snapshot." + job.topicKey
	parts := make([]string, 0, len(candidates))
	for _, item := range candidates {
		parts = append(parts, fmt.Sprintf("%s(%.2f):%s", item.SlotKey, item.Score, strings.ReplaceAll(item.Value, "\n", " ")))
	}
	payload := fmt.Sprintf("trend topic=%s query='%s' candidates=%d top=%s", job.topicKey, job.query, len(candidates), strings.Join(parts, " | "))

	_, err = mem.AppendEvent(memory.MemoryEventInput{
		EntityID: job.entityID, SlotKey: slotKey, EventType: memory.SummaryCompacted, Value: payload,
		Source: memory.SourceSystem, Privacy: memory.PrivacyPrivate, Importance: 0.6,
		Provenance: "ingestion:trend:" + job.topicKey, MemLayer: memory.LayerWorking,
	})
	if err != nil {
		return false, fmt.Sprintf("%s\nappend_event failed: %v", routeMarkerTrendAggregation, err)
	}
	return true, fmt.Sprintf("%s\naccepted=true\nslot_key=%s\nsource_count=%d\nquery=%s", routeMarkerTrendAggregation, slotKey, len(candidates), job.query)
}

func decodeCDATA(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "<![CDATA[") && strings.HasSuffix(trimmed, "]]>") {
		return strings.TrimSpace(trimmed[len("<![CDATA[") : len(trimmed)-len("]]>")])
	}
	return trimmed
}

func extractXMLTag(block, tag string) (string, bool) {
	open, close := "<"+tag+">", "</"+tag+">"
	start := strings.Index(block, open)
	if start < 0 {
		return "", false
	}
	rest := block[start+len(open):]
	end := strings.Index(rest, close)
	if end < 0 {
		return "", false
	}
	return decodeCDATA(rest[:end]), true
}

type rssPollItem struct {
	sourceRef string
	content   string
}

func parseRSSItemsFromXML(xml string, limit int) []rssPollItem {
	if limit <= 0 {
		return nil
	}
	var items []rssPollItem
	chunks := strings.Split(xml, "<item")
	for _, chunk := range chunks[1:] {
		if len(items) >= limit {
			break
		}
		afterGT := strings.Index(chunk, ">")
		if afterGT < 0 {
			continue
		}
		body := chunk[afterGT+1:]
		closeIdx := strings.Index(body, "</item>")
		if closeIdx < 0 {
			continue
		}
		itemBody := body[:closeIdx]

		title, _ := extractXMLTag(itemBody, "title")
		description, _ := extractXMLTag(itemBody, "description")
		guid, hasGUID := extractXMLTag(itemBody, "guid")
		link, hasLink := extractXMLTag(itemBody, "link")

		var id string
		switch {
		case hasGUID:
			id = guid
		case hasLink:
			id = link
		default:
			id = fmt.Sprintf("rss-item-%d", len(items)+1)
		}

		var content string
		switch {
		case title != "" && description != "":
			content = title + " - " + description
		case title != "":
			content = title
		default:
			content = description
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		items = append(items, rssPollItem{sourceRef: "rss:" + id, content: content})
	}
	return items
}

func buildRSSPollEnvelopes(entityID string, items []rssPollItem) []memory.SignalEnvelope {
	envelopes := make([]memory.SignalEnvelope, 0, len(items))
	for _, item := range items {
		envelopes = append(envelopes, memory.SignalEnvelope{
			SourceKind: memory.SourceKindNews, SourceRef: item.sourceRef, Content: item.content,
			EntityID: entityID, Privacy: memory.PrivacyPrivate,
		})
	}
	return envelopes
}

func ingestBatch(mem *memory.Store, envelopes []memory.SignalEnvelope) (accepted, total int, err error) {
	for _, env := range envelopes {
		result, ierr := mem.Ingest(env)
		if ierr != nil {
			return accepted, total, ierr
		}
		total++
		if result.Accepted {
			accepted++
		}
	}
	return accepted, total, nil
}

var httpClient = &http.Client{Timeout: 15 * time.Second}

func runRSSPollJobCommand(_ context.Context, mem *memory.Store, policy *security.Policy, job *parsedRSSPollJob) (bool, string) {
	if success, output, blocked := consumeSecurityOrOutput(policy, job.entityID, routeMarkerRSSPoll); blocked {
		return success, output
	}

	resp, err := httpClient.Get(job.url)
	if err != nil {
		return false, fmt.Sprintf("%s\nrequest failed: %v", routeMarkerRSSPoll, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("%s\nrss fetch non-success status=%d", routeMarkerRSSPoll, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Sprintf("%s\nresponse decode failed: %v", routeMarkerRSSPoll, err)
	}

	items := parseRSSItemsFromXML(string(body), rssPollItemLimit)
	if len(items) == 0 {
		return true, fmt.Sprintf("%s\naccepted=false\nreason=no_items", routeMarkerRSSPoll)
	}

	envelopes := buildRSSPollEnvelopes(job.entityID, items)
	accepted, total, err := ingestBatch(mem, envelopes)
	if err != nil {
		return false, fmt.Sprintf("%s\ningestion batch failed: %v", routeMarkerRSSPoll, err)
	}
	return true, fmt.Sprintf("%s\naccepted=true\naccepted_count=%d\ntotal=%d\nurl=%s", routeMarkerRSSPoll, accepted, total, job.url)
}

func resolveXBearerToken() (string, error) {
	token := os.Getenv("X_BEARER_TOKEN")
	if strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("missing X_BEARER_TOKEN")
	}
	return token, nil
}

func resolveXRecentSearchEndpoint() string {
	if v := os.Getenv("ASTERONIRIS_X_RECENT_SEARCH_ENDPOINT"); strings.TrimSpace(v) != "" {
		return v
	}
	return xRecentSearchEndpoint
}

type xRecentTweet struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Lang     string `json:"lang,omitempty"`
	AuthorID string `json:"author_id,omitempty"`
}

type xRecentSearchResponse struct {
	Data []xRecentTweet `json:"data"`
}

func buildXPollEnvelopes(entityID, query string, tweets []xRecentTweet) []memory.SignalEnvelope {
	envelopes := make([]memory.SignalEnvelope, 0, len(tweets))
	for _, tweet := range tweets {
		meta := map[string]string{"x_query": query}
		if tweet.AuthorID != "" {
			meta["x_author_id"] = tweet.AuthorID
		}
		envelopes = append(envelopes, memory.SignalEnvelope{
			SourceKind: memory.SourceKindAPI, SourceRef: "x:" + tweet.ID, Content: tweet.Text,
			EntityID: entityID, Privacy: memory.PrivacyPrivate, Metadata: meta, Language: tweet.Lang,
		})
	}
	return envelopes
}

func runXPollJobCommand(_ context.Context, mem *memory.Store, policy *security.Policy, job *parsedXPollJob) (bool, string) {
	if success, output, blocked := consumeSecurityOrOutput(policy, job.entityID, routeMarkerXPoll); blocked {
		return success, output
	}

	token, err := resolveXBearerToken()
	if err != nil {
		return false, fmt.Sprintf("%s\n%s", routeMarkerXPoll, err)
	}

	endpoint := resolveXRecentSearchEndpoint()
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Sprintf("%s\nrequest failed: %v", routeMarkerXPoll, err)
	}
	q := req.URL.Query()
	q.Set("query", job.query)
	q.Set("max_results", strconv.Itoa(10))
	q.Set("tweet.fields", "created_at,lang,author_id")
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpClient.Do(req)
	if err != nil {
		return false, fmt.Sprintf("%s\nrequest failed: %v", routeMarkerXPoll, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("%s\nx api non-success status=%d", routeMarkerXPoll, resp.StatusCode)
	}

	var parsed xRecentSearchResponse
	if err := decodeJSON(resp, &parsed); err != nil {
		return false, fmt.Sprintf("%s\nresponse decode failed: %v", routeMarkerXPoll, err)
	}
	if len(parsed.Data) == 0 {
		return true, fmt.Sprintf("%s\naccepted=false\nreason=no_tweets", routeMarkerXPoll)
	}

	envelopes := buildXPollEnvelopes(job.entityID, job.query, parsed.Data)
	accepted, total, err := ingestBatch(mem, envelopes)
	if err != nil {
		return false, fmt.Sprintf("%s\ningestion batch failed: %v", routeMarkerXPoll, err)
	}
	return true, fmt.Sprintf("%s\naccepted=true\naccepted_count=%d\ntotal=%d\nquery=%s", routeMarkerXPoll, accepted, total, job.query)
}
