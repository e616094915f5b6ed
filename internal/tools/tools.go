package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// fileOrFallback reads a named evidence file from dir; when the directory
// is unset or the file is missing the canned fallback is returned so the
// debate still has material to work with.
func fileOrFallback(dir, name, fallback string) string {
	if dir == "" {
		return fallback
	}
	data, err := os.ReadFile(filepath.Join(dir, name)) // #nosec G304 -- operator-supplied evidence dir
	if err != nil {
		return fallback
	}
	return string(data)
}

// RepositoryTool surfaces recent repository activity: commits, deploy
// manifests and config diffs around the incident window.
type RepositoryTool struct {
	dir string
}

func NewRepositoryTool(evidenceDir string) *RepositoryTool {
	return &RepositoryTool{dir: evidenceDir}
}

func (t *RepositoryTool) Name() string { return "repository" }

func (t *RepositoryTool) Description() string {
	return "Inspect recent commits, deploy manifests and configuration changes"
}

func (t *RepositoryTool) Execute(_ context.Context, query string) (*Result, error) {
	content := fileOrFallback(t.dir, "repository.txt", cannedRepository)
	return &Result{
		Success: true,
		Data: map[string]interface{}{
			"query":   query,
			"changes": content,
		},
		Summary: "recent repository activity",
	}, nil
}

// LogTool returns log excerpts from the incident window.
type LogTool struct {
	dir string
}

func NewLogTool(evidenceDir string) *LogTool {
	return &LogTool{dir: evidenceDir}
}

func (t *LogTool) Name() string { return "logs" }

func (t *LogTool) Description() string {
	return "Read application and platform log excerpts from the incident window"
}

func (t *LogTool) Execute(_ context.Context, query string) (*Result, error) {
	content := fileOrFallback(t.dir, "logs.txt", cannedLogs)
	return &Result{
		Success: true,
		Data: map[string]interface{}{
			"query":    query,
			"excerpts": content,
		},
		Summary: "log excerpts",
	}, nil
}

// DatabaseTool reports database health indicators: connection pools, slow
// queries, replication lag.
type DatabaseTool struct {
	dir string
}

func NewDatabaseTool(evidenceDir string) *DatabaseTool {
	return &DatabaseTool{dir: evidenceDir}
}

func (t *DatabaseTool) Name() string { return "database" }

func (t *DatabaseTool) Description() string {
	return "Query database health: pools, slow queries, replication lag"
}

func (t *DatabaseTool) Execute(_ context.Context, query string) (*Result, error) {
	content := fileOrFallback(t.dir, "database.txt", cannedDatabase)
	return &Result{
		Success: true,
		Data: map[string]interface{}{
			"query":  query,
			"health": content,
		},
		Summary: "database health snapshot",
	}, nil
}

// CaseLibraryTool looks up prior incident cases by keyword. Lookups are
// cached; the judge tends to re-query the same terms across rounds.
type CaseLibraryTool struct {
	cases map[string]string
	cache *lru.Cache[string, []string]
}

const caseLibraryCacheSize = 128

func NewCaseLibraryTool() (*CaseLibraryTool, error) {
	cache, err := lru.New[string, []string](caseLibraryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create case library cache: %w", err)
	}
	return &CaseLibraryTool{cases: cannedCases, cache: cache}, nil
}

func (t *CaseLibraryTool) Name() string { return "case-library" }

func (t *CaseLibraryTool) Description() string {
	return "Look up prior incident cases with similar symptoms"
}

func (t *CaseLibraryTool) Execute(_ context.Context, query string) (*Result, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	matches, ok := t.cache.Get(key)
	if !ok {
		matches = t.search(key)
		t.cache.Add(key, matches)
	}
	return &Result{
		Success: true,
		Data: map[string]interface{}{
			"query":   query,
			"matches": matches,
		},
		Summary: fmt.Sprintf("%d prior cases matched", len(matches)),
	}, nil
}

func (t *CaseLibraryTool) search(query string) []string {
	words := strings.Fields(query)
	var matches []string
	for id, body := range t.cases {
		lower := strings.ToLower(body)
		for _, word := range words {
			if len(word) < 4 {
				continue
			}
			if strings.Contains(lower, word) {
				matches = append(matches, fmt.Sprintf("%s: %s", id, body))
				break
			}
		}
	}
	if matches == nil {
		// An empty library answer is still an answer; return the most
		// generally useful cases so the judge has precedent to weigh.
		matches = []string{
			fmt.Sprintf("CASE-0017: %s", t.cases["CASE-0017"]),
		}
	}
	return matches
}

var cannedRepository = strings.TrimSpace(`
commit 9f2e1ab (HEAD, deployed 14:02 UTC)
    checkout: raise payment client pool size 10 -> 50
commit 77acd03 (deployed 13:45 UTC)
    infra: rotate database credentials for orders-db
commit b3190fe (deployed 11:20 UTC)
    api: add retry with backoff to inventory lookups
config diff (14:02 UTC): PAYMENT_POOL_SIZE 10 -> 50, DB_MAX_CONNS unchanged at 60
`)

var cannedLogs = strings.TrimSpace(`
14:03:11 checkout ERROR acquiring connection: pool exhausted (waited 5s)
14:03:12 checkout WARN  request latency p99 8.2s (baseline 240ms)
14:03:14 orders-db WARN  connection count 60/60, rejecting new connections
14:03:20 checkout ERROR acquiring connection: pool exhausted (waited 5s)
14:04:02 payment-gw INFO  upstream healthy, latency nominal
13:44:58 orders-db INFO  credential rotation applied, existing sessions kept
`)

var cannedDatabase = strings.TrimSpace(`
orders-db: connections 60/60 (max_connections 60), 41 held by checkout
slow queries: none above 500ms in incident window
replication lag: 0.2s (nominal)
locks: no long-running transactions
`)

var cannedCases = map[string]string{
	"CASE-0003": "API latency spike after cache node eviction; root cause was cold cache stampede, mitigated by request coalescing",
	"CASE-0009": "checkout errors after deploy; root cause was connection pool raised past database max_connections, starving sibling services",
	"CASE-0017": "elevated 5xx after credential rotation; root cause was stale credentials cached in long-lived workers",
	"CASE-0024": "replication lag caused stale reads in order history; root cause was unthrottled backfill job",
	"CASE-0031": "payment gateway timeouts; root cause was upstream provider brownout, resolved by failover region",
}
