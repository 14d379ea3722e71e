package deployments

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
)

func TestGrafanaDashboardJSONIsValid(t *testing.T) {
	root := repoRoot(t)
	path := filepath.Join(root, "deployments", "observability", "grafana", "querydeck_slo_dashboard.json")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read dashboard file: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(content, &decoded); err != nil {
		t.Fatalf("dashboard JSON parse error: %v", err)
	}

	title, _ := decoded["title"].(string)
	if strings.TrimSpace(title) == "" {
		t.Fatal("dashboard title is required")
	}
	panels, ok := decoded["panels"].([]any)
	if !ok || len(panels) == 0 {
		t.Fatal("dashboard must include at least one panel")
	}
}

// TestRecordedMetricsExistInCode keeps the rule files in step with the
// metric names the service registers.
func TestRecordedMetricsExistInCode(t *testing.T) {
	root := repoRoot(t)
	rules, err := os.ReadFile(filepath.Join(root, "deployments", "observability", "prometheus", "querydeck_recording_rules.yaml"))
	if err != nil {
		t.Fatalf("read recording rules file: %v", err)
	}
	var source strings.Builder
	for _, name := range []string{"metrics.go", "domain_metrics.go"} {
		content, err := os.ReadFile(filepath.Join(root, "internal", "observability", name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		source.Write(content)
	}

	metricPattern := regexp.MustCompile(`querydeck_[a-z_]+?(?:_bucket)?\b`)
	for _, metric := range metricPattern.FindAllString(string(rules), -1) {
		base := strings.TrimSuffix(metric, "_bucket")
		if !strings.Contains(source.String(), `"`+base+`"`) {
			t.Fatalf("recording rules reference unknown metric %q", base)
		}
	}
}

func TestPrometheusRulesContainExpectedAlerts(t *testing.T) {
	root := repoRoot(t)
	path := filepath.Join(root, "deployments", "observability", "prometheus", "querydeck_rules.yaml")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read rules file: %v", err)
	}
	text := string(content)

	requiredAlerts := []string{
		"QuerydeckGenerationLatencyP95High",
		"QuerydeckGenerationErrorRateHigh",
		"QuerydeckQueryLatencyP95High",
		"QuerydeckQueryErrorRateHigh",
		"QuerydeckIngestFailuresDetected",
		"QuerydeckHTTPErrorRateHigh",
	}
	for _, alertName := range requiredAlerts {
		if !strings.Contains(text, "alert: "+alertName) {
			t.Fatalf("rules missing alert %q", alertName)
		}
	}

	requiredMetrics := []string{
		"querydeck:slo_generation_latency_ms_p95",
		"querydeck:slo_generation_error_rate_5m",
		"querydeck:slo_query_latency_ms_p95",
		"querydeck:slo_query_error_rate_5m",
		"querydeck:slo_ingest_failures_15m",
		"querydeck:slo_http_error_rate_5m",
	}
	for _, metricName := range requiredMetrics {
		matched, err := regexp.MatchString(regexp.QuoteMeta(metricName), text)
		if err != nil {
			t.Fatalf("regexp error for metric %q: %v", metricName, err)
		}
		if !matched {
			t.Fatalf("rules missing metric reference %q", metricName)
		}
	}
}

func TestPrometheusScrapeExampleContainsMetricsPathAndRules(t *testing.T) {
	root := repoRoot(t)
	path := filepath.Join(root, "deployments", "observability", "prometheus", "prometheus-scrape.example.yaml")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read scrape example: %v", err)
	}
	text := string(content)

	if !strings.Contains(text, "metrics_path: /v1/metrics") {
		t.Fatal("scrape example missing metrics path")
	}
	if !strings.Contains(text, "querydeck_rules.yaml") {
		t.Fatal("scrape example missing querydeck rule file reference")
	}
	if !strings.Contains(text, "querydeck_recording_rules.yaml") {
		t.Fatal("scrape example missing querydeck recording rule file reference")
	}
	if !strings.Contains(text, "job_name: querydeck-api") {
		t.Fatal("scrape example missing querydeck-api job")
	}
}

func TestPrometheusRecordingRulesContainExpectedRecords(t *testing.T) {
	root := repoRoot(t)
	path := filepath.Join(root, "deployments", "observability", "prometheus", "querydeck_recording_rules.yaml")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read recording rules file: %v", err)
	}
	text := string(content)

	requiredRecords := []string{
		"querydeck:slo_generation_latency_ms_p95",
		"querydeck:slo_generation_error_rate_5m",
		"querydeck:slo_query_latency_ms_p95",
		"querydeck:slo_query_error_rate_5m",
		"querydeck:slo_ingest_failures_15m",
		"querydeck:slo_active_sessions",
		"querydeck:slo_http_error_rate_5m",
	}
	for _, recordName := range requiredRecords {
		if !strings.Contains(text, "record: "+recordName) {
			t.Fatalf("recording rules missing record %q", recordName)
		}
	}
}

func TestAlertmanagerExampleContainsSeverityRouting(t *testing.T) {
	root := repoRoot(t)
	path := filepath.Join(root, "deployments", "observability", "alertmanager", "alertmanager.example.yaml")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read alertmanager example: %v", err)
	}
	text := string(content)

	requiredTokens := []string{
		"receiver: querydeck-default",
		"severity=\"critical\"",
		"severity=\"warning\"",
		"name: querydeck-critical",
		"name: querydeck-warning",
		"inhibit_rules:",
		"group_by: [alertname, service, severity]",
	}
	for _, token := range requiredTokens {
		if !strings.Contains(text, token) {
			t.Fatalf("alertmanager example missing token %q", token)
		}
	}
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), ".."))
}
