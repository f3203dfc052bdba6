// Package devworker is an in-memory stand-in for the retrieval worker. It
// serves the full worker method surface over pkg/rpcworker using plain term
// matching, so the bridge and MCP layer can be exercised without the Python
// worker or any model API.
package devworker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"ragbridge/pkg/protocol"
	"ragbridge/pkg/rpcworker"
)

// Defaults reported when no backend is configured, matching the worker's
// embedded stores.
const (
	defaultVectorStore = "NanoVectorDB"
	defaultGraphStore  = "NetworkX"
)

// Config is read from the worker's environment snapshot.
type Config struct {
	WorkingDir    string
	MilvusAddress string
	Neo4jURI      string
}

// ConfigFromEnv builds a Config from the variables the bridge hands to
// every worker.
func ConfigFromEnv(getenv func(string) string) Config {
	return Config{
		WorkingDir:    getenv(protocol.EnvWorkingDir),
		MilvusAddress: getenv(protocol.EnvMilvusAddress),
		Neo4jURI:      getenv(protocol.EnvNeo4jURI),
	}
}

// passage is one blank-line separated block of an indexed document.
type passage struct {
	source string
	text   string
	terms  map[string]int
}

// Worker holds the indexed corpus.
type Worker struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	passages []passage
	bytes    int64
}

// New creates an empty Worker.
func New(cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{cfg: cfg, logger: logger}
}

// Register installs every worker method on srv.
func (w *Worker) Register(srv *rpcworker.Server) {
	srv.Handle(protocol.MethodPing, func(context.Context, map[string]any) (any, error) {
		return protocol.PingResult, nil
	})
	srv.Handle(protocol.MethodIndexFiles, w.indexFiles)
	srv.Handle(protocol.MethodInsertText, w.insertText)
	srv.Handle(protocol.MethodSearchCode, w.searchCode)
	srv.Handle(protocol.MethodGetEntity, w.getEntity)
	srv.Handle(protocol.MethodGetRelationships, w.getRelationships)
	srv.Handle(protocol.MethodVisualizeSubgraph, w.visualizeSubgraph)
	srv.Handle(protocol.MethodIndexingStatus, w.indexingStatus)
}

// Insert adds text from source to the corpus and returns its passage count.
func (w *Worker) Insert(source, text string) int {
	blocks := splitPassages(text)

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range blocks {
		w.passages = append(w.passages, passage{source: source, text: b, terms: termCounts(b)})
	}
	w.bytes += int64(len(text))
	return len(blocks)
}

type indexParams struct {
	FilePaths []string `json:"file_paths"`
}

func (w *Worker) indexFiles(ctx context.Context, params map[string]any) (any, error) {
	var p indexParams
	if err := rpcworker.Bind(params, &p); err != nil {
		return nil, err
	}
	if len(p.FilePaths) == 0 {
		return nil, rpcworker.InvalidParams("file_paths is required")
	}

	w.logger.Info("indexing files", zap.Int("count", len(p.FilePaths)))
	errs := []string{}
	success := 0
	for _, path := range p.FilePaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path) //nolint:gosec // index_files reads caller-supplied paths
		switch {
		case os.IsNotExist(err):
			errs = append(errs, "File not found: "+path)
			continue
		case err != nil:
			errs = append(errs, fmt.Sprintf("Error indexing %s: %v", path, err))
			continue
		}
		w.Insert(path, string(data))
		success++
	}

	return map[string]any{
		"success_count": success,
		"error_count":   len(errs),
		"errors":        errs,
		"total":         len(p.FilePaths),
	}, nil
}

type insertParams struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

func (w *Worker) insertText(_ context.Context, params map[string]any) (any, error) {
	var p insertParams
	if err := rpcworker.Bind(params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Text) == "" {
		return nil, rpcworker.InvalidParams("text is required")
	}

	source := "inline"
	if s, ok := p.Metadata["source"].(string); ok && s != "" {
		source = s
	}
	w.Insert(source, p.Text)
	return map[string]any{
		"success": true,
		"message": fmt.Sprintf("Successfully inserted %d characters", len(p.Text)),
	}, nil
}

type searchParams struct {
	Query       string   `json:"query"`
	Mode        string   `json:"mode"`
	TopK        int      `json:"top_k"`
	OnlyContext bool     `json:"only_context"`
	HLKeywords  []string `json:"hl_keywords"`
	LLKeywords  []string `json:"ll_keywords"`
}

func (w *Worker) searchCode(_ context.Context, params map[string]any) (any, error) {
	p := searchParams{Mode: protocol.ModeHybrid, TopK: 10}
	if err := rpcworker.Bind(params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Query) == "" {
		return nil, rpcworker.InvalidParams("query is required")
	}
	if !slices.Contains(protocol.SearchModes, p.Mode) {
		return nil, rpcworker.InvalidParams("unknown mode %q", p.Mode)
	}

	terms := queryTerms(p.Query)
	terms = append(terms, lowerAll(p.HLKeywords)...)
	terms = append(terms, lowerAll(p.LLKeywords)...)
	hits := w.rank(terms, p.TopK)

	var b strings.Builder
	if !p.OnlyContext {
		fmt.Fprintf(&b, "Found %d relevant passages for %q.\n\n", len(hits), p.Query)
	}
	for _, h := range hits {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", h.source, h.text)
	}

	return map[string]any{
		"answer": strings.TrimSpace(b.String()),
		"query":  p.Query,
		"mode":   p.Mode,
		"top_k":  p.TopK,
	}, nil
}

func (w *Worker) getEntity(_ context.Context, params map[string]any) (any, error) {
	name, _ := params["entity_name"].(string)
	if strings.TrimSpace(name) == "" {
		return nil, rpcworker.InvalidParams("entity_name is required")
	}

	var b strings.Builder
	for _, line := range w.linesMentioning(name, 10) {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return map[string]any{
		"entity_name": name,
		"description": strings.TrimSpace(b.String()),
		"search_mode": protocol.ModeLocal,
	}, nil
}

type relationshipParams struct {
	EntityName   string `json:"entity_name"`
	RelationType string `json:"relation_type"`
	Depth        int    `json:"depth"`
}

func (w *Worker) getRelationships(_ context.Context, params map[string]any) (any, error) {
	p := relationshipParams{Depth: 1}
	if err := rpcworker.Bind(params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.EntityName) == "" {
		return nil, rpcworker.InvalidParams("entity_name is required")
	}

	neighbours := w.neighbours(p.EntityName, 20*p.Depth)
	var b strings.Builder
	for _, n := range neighbours {
		fmt.Fprintf(&b, "%s -> %s\n", p.EntityName, n)
	}
	relType := p.RelationType
	if relType == "" {
		relType = "all"
	}
	return map[string]any{
		"entity_name":   p.EntityName,
		"relation_type": relType,
		"depth":         p.Depth,
		"relationships": strings.TrimSpace(b.String()),
	}, nil
}

type subgraphParams struct {
	Query    string `json:"query"`
	Format   string `json:"format"`
	MaxNodes int    `json:"max_nodes"`
}

func (w *Worker) visualizeSubgraph(_ context.Context, params map[string]any) (any, error) {
	p := subgraphParams{Format: "mermaid", MaxNodes: 20}
	if err := rpcworker.Bind(params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Query) == "" {
		return nil, rpcworker.InvalidParams("query is required")
	}

	var b strings.Builder
	b.WriteString("graph TD\n")
	fmt.Fprintf(&b, "    Q[%q]\n", p.Query)
	seen := map[string]int{}
	for _, h := range w.rank(queryTerms(p.Query), p.MaxNodes) {
		if _, ok := seen[h.source]; ok {
			continue
		}
		id := len(seen)
		seen[h.source] = id
		fmt.Fprintf(&b, "    N%d[%q]\n    Q --> N%d\n", id, filepath.Base(h.source), id)
	}

	return map[string]any{
		"query":     p.Query,
		"format":    p.Format,
		"diagram":   b.String(),
		"max_nodes": p.MaxNodes,
	}, nil
}

func (w *Worker) indexingStatus(context.Context, map[string]any) (any, error) {
	w.mu.RLock()
	size := w.bytes
	w.mu.RUnlock()

	vector, graph := defaultVectorStore, defaultGraphStore
	if w.cfg.MilvusAddress != "" {
		vector = w.cfg.MilvusAddress
	}
	if w.cfg.Neo4jURI != "" {
		graph = w.cfg.Neo4jURI
	}
	return map[string]any{
		"initialized":            true,
		"working_dir":            w.cfg.WorkingDir,
		"working_dir_size_bytes": size,
		"storage_backends": map[string]string{
			"milvus": vector,
			"neo4j":  graph,
		},
	}, nil
}

// rank returns up to k passages scored by summed term frequency.
func (w *Worker) rank(terms []string, k int) []passage {
	if k <= 0 || len(terms) == 0 {
		return nil
	}

	type scored struct {
		p     passage
		score int
		order int
	}

	w.mu.RLock()
	var hits []scored
	for i, p := range w.passages {
		score := 0
		for _, t := range terms {
			score += p.terms[t]
		}
		if score > 0 {
			hits = append(hits, scored{p: p, score: score, order: i})
		}
	}
	w.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].order < hits[j].order
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]passage, len(hits))
	for i, h := range hits {
		out[i] = h.p
	}
	return out
}

// linesMentioning returns up to n trimmed lines containing name.
func (w *Worker) linesMentioning(name string, n int) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var out []string
	for _, p := range w.passages {
		for _, line := range strings.Split(p.text, "\n") {
			if strings.Contains(line, name) {
				out = append(out, strings.TrimSpace(line))
				if len(out) == n {
					return out
				}
			}
		}
	}
	return out
}

// neighbours lists identifiers sharing a line with name, most frequent
// first.
func (w *Worker) neighbours(name string, n int) []string {
	counts := map[string]int{}
	for _, line := range w.linesMentioning(name, 1000) {
		for _, tok := range identifiers(line) {
			if tok != name {
				counts[tok]++
			}
		}
	}

	names := make([]string, 0, len(counts))
	for k := range counts {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}

func splitPassages(text string) []string {
	var out []string
	for _, block := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if b := strings.TrimSpace(block); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func identifiers(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

func queryTerms(q string) []string {
	var out []string
	for _, t := range identifiers(q) {
		if len(t) > 1 {
			out = append(out, strings.ToLower(t))
		}
	}
	return out
}

func termCounts(text string) map[string]int {
	counts := map[string]int{}
	for _, t := range queryTerms(text) {
		counts[t]++
	}
	return counts
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}
