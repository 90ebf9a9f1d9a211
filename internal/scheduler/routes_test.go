package scheduler

import "testing"

func TestParseRoutedJobCommandIngestAPI(t *testing.T) {
	routed, ok := parseRoutedJobCommand("ingest:api user-1 feed-1 hello world")
	if !ok || routed.ingestion == nil {
		t.Fatalf("expected ingestion route, got %+v ok=%v", routed, ok)
	}
	if routed.ingestion.entityID != "user-1" || routed.ingestion.sourceRef != "feed-1" || routed.ingestion.content != "hello world" {
		t.Fatalf("got %+v", routed.ingestion)
	}
}

func TestParseRoutedJobCommandIngestXPrefixesSourceRef(t *testing.T) {
	routed, ok := parseRoutedJobCommand("ingest:x user-1 12345 some tweet text")
	if !ok || routed.ingestion == nil {
		t.Fatalf("expected ingestion route")
	}
	if routed.ingestion.sourceRef != "x:12345" {
		t.Fatalf("got source_ref=%q, want x:12345", routed.ingestion.sourceRef)
	}
}

func TestParseRoutedJobCommandXPoll(t *testing.T) {
	routed, ok := parseRoutedJobCommand("ingest:x-poll user-1 golang release notes")
	if !ok || routed.xPoll == nil {
		t.Fatalf("expected x-poll route")
	}
	if routed.xPoll.entityID != "user-1" || routed.xPoll.query != "golang release notes" {
		t.Fatalf("got %+v", routed.xPoll)
	}
}

func TestParseRoutedJobCommandRssPoll(t *testing.T) {
	routed, ok := parseRoutedJobCommand("ingest:rss-poll user-1 https://example.com/feed.xml")
	if !ok || routed.rssPoll == nil {
		t.Fatalf("expected rss-poll route")
	}
	if routed.rssPoll.url != "https://example.com/feed.xml" {
		t.Fatalf("got %+v", routed.rssPoll)
	}
}

func TestParseRoutedJobCommandTrendNormalizesTopicKey(t *testing.T) {
	routed, ok := parseRoutedJobCommand("ingest:trend user-1 Go/1.23!! release query text")
	if !ok || routed.trendAggregation == nil {
		t.Fatalf("expected trend route")
	}
	if routed.trendAggregation.topicKey != "go.1.23" {
		t.Fatalf("got topic_key=%q", routed.trendAggregation.topicKey)
	}
}

func TestParseRoutedJobCommandPlainShellIsUnrouted(t *testing.T) {
	if _, ok := parseRoutedJobCommand("git status"); ok {
		t.Fatalf("expected plain shell command to fall through unrouted")
	}
}

func TestParseRoutedJobCommandPlanIsUnrouted(t *testing.T) {
	if _, ok := parseRoutedJobCommand(`plan:{"id":"p1"}`); ok {
		t.Fatalf("expected plan: command to fall through unrouted")
	}
}

func TestParseRSSItemsFromXML(t *testing.T) {
	xml := `<rss><channel>
		<item><title>Hello</title><description>World</description><guid>abc123</guid></item>
		<item><title>Second</title><description></description><link>https://example.com/2</link></item>
	</channel></rss>`
	items := parseRSSItemsFromXML(xml, 10)
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].sourceRef != "rss:abc123" || items[0].content != "Hello - World" {
		t.Fatalf("got %+v", items[0])
	}
	if items[1].sourceRef != "rss:https://example.com/2" || items[1].content != "Second" {
		t.Fatalf("got %+v", items[1])
	}
}

func TestParseRSSItemsFromXMLRespectsLimit(t *testing.T) {
	xml := `<item><title>a</title></item><item><title>b</title></item><item><title>c</title></item>`
	items := parseRSSItemsFromXML(xml, 2)
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
}
