// Package httplink discovers cross-service HTTP calls. It scans function
// source for route registrations and HTTP client calls, then matches call
// URLs to route paths with a multi-signal confidence score.
package httplink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/codetreehq/codetree/internal/store"
)

// RouteHandler is a discovered HTTP route registration.
type RouteHandler struct {
	Path       string
	Method     string
	FunctionID int64
	FullName   string
}

// HTTPCallSite is a discovered outbound HTTP call.
type HTTPCallSite struct {
	Path       string
	Method     string // best-effort: "GET", "POST", etc. or "" if unknown
	FunctionID int64
	FullName   string
}

// HTTPLink is a matched HTTP call from caller to handler.
type HTTPLink struct {
	CallerName  string
	HandlerName string
	URLPath     string
	Method      string
	Confidence  float64
	Band        string
}

// Options tune route exclusion and match strictness.
type Options struct {
	// ExcludePaths are route paths skipped during matching,
	// in addition to the built-in defaults.
	ExcludePaths []string

	// MinConfidence is the minimum score for reporting a link.
	// Zero means the default threshold.
	MinConfidence float64

	// FuzzyMatching allows near-equal path segments to match.
	FuzzyMatching bool
}

// DefaultOptions returns the default linker options.
func DefaultOptions() Options {
	return Options{FuzzyMatching: true}
}

// Linker discovers HTTP links between functions of one repository.
type Linker struct {
	store *store.Store
	repo  string
	opts  Options
}

// New creates a Linker for the given repository hash.
func New(s *store.Store, repo string, opts Options) *Linker {
	return &Linker{store: s, repo: repo, opts: opts}
}

// regex patterns for route and URL discovery
var (
	// Python decorators: @app.post("/path"), @router.get("/path")
	pyRouteRe = regexp.MustCompile(`@\w+\.(get|post|put|delete|patch)\(\s*["']([^"']+)["']`)

	// Go gin routes: .POST("/path", .GET("/path"
	goRouteRe = regexp.MustCompile(`\.(GET|POST|PUT|DELETE|PATCH)\(\s*["']([^"']+)["']`)

	// Express.js routes: app.get("/path", router.post("/path"
	expressRouteRe = regexp.MustCompile(`\w+\.(get|post|put|delete|patch)\(\s*["'` + "`" + `]([^"'` + "`" + `]+)["'` + "`" + `]`)

	// Java Spring annotations: @GetMapping("/path"), @PostMapping, @RequestMapping
	springMappingRe = regexp.MustCompile(`@(Get|Post|Put|Delete|Patch|Request)Mapping\(\s*(?:value\s*=\s*)?["']([^"']+)["']`)

	// URL patterns in source: https://host/path or http://host/path — captures domain and path
	urlRe = regexp.MustCompile(`https?://([a-zA-Z0-9.\-]+)(/[a-zA-Z0-9_/:.\-]+)`)

	// Path-only patterns: "/api/something" (quoted paths starting with /)
	pathRe = regexp.MustCompile(`["'](/[a-zA-Z0-9_/:.\-]{2,})["']`)

	// Path param normalizers
	colonParamRe = regexp.MustCompile(`:[a-zA-Z_]+`)
	braceParamRe = regexp.MustCompile(`\{[a-zA-Z_]+\}`)
)

// Run executes the HTTP linking pass.
func (l *Linker) Run() ([]HTTPLink, error) {
	repo, err := l.store.GetRepository(l.repo)
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}

	funcs, err := l.store.AllFunctions(l.repo)
	if err != nil {
		return nil, fmt.Errorf("list functions: %w", err)
	}

	routes := l.discoverRoutes(repo.Root, funcs)
	slog.Info("httplink.routes", "count", len(routes))

	l.markHandlers(routes)

	callSites := l.discoverCallSites(repo.Root, funcs)
	slog.Info("httplink.callsites", "count", len(callSites))

	links := l.matchLinks(routes, callSites)
	slog.Info("httplink.links", "count", len(links))

	return links, nil
}

// markHandlers flags route handler functions as entry points.
func (l *Linker) markHandlers(routes []RouteHandler) {
	for _, rh := range routes {
		if err := l.store.MarkEntry(rh.FunctionID); err != nil {
			slog.Warn("httplink.mark_entry.err", "function", rh.FullName, "err", err)
		}
	}
}

// decoratorWindow is how many lines above a definition are scanned for
// route decorators and annotations.
const decoratorWindow = 5

// discoverRoutes finds route registrations in function source.
func (l *Linker) discoverRoutes(rootPath string, funcs []*store.Function) []RouteHandler {
	exclude := append(append([]string{}, defaultExcludePaths...), l.opts.ExcludePaths...)

	var routes []RouteHandler
	for _, f := range funcs {
		if f.FilePath == "" || f.Lineno <= 0 || f.EndLineno < f.Lineno {
			continue
		}

		var found []RouteHandler

		// Decorators and annotations sit above the definition line.
		if f.Lineno > 1 {
			head := readSourceLines(rootPath, f.FilePath, max(1, f.Lineno-decoratorWindow), f.Lineno-1)
			if head != "" {
				found = append(found, extractDecoratorRoutes(f, head)...)
			}
		}

		// Registration-call styles (gin, Express) appear in the body.
		body := readSourceLines(rootPath, f.FilePath, f.Lineno, f.EndLineno)
		if body != "" {
			found = append(found, extractBodyRoutes(f, body)...)
		}

		for _, rh := range found {
			// Route paths are rooted; a full URL here is a client call,
			// not a registration.
			if !strings.HasPrefix(rh.Path, "/") {
				continue
			}
			if isPathExcluded(rh.Path, exclude) {
				continue
			}
			routes = append(routes, rh)
		}
	}
	return routes
}

// extractDecoratorRoutes extracts routes declared by decorators or
// annotations above the definition (FastAPI/Flask, Spring).
func extractDecoratorRoutes(f *store.Function, head string) []RouteHandler {
	var routes []RouteHandler

	for _, m := range pyRouteRe.FindAllStringSubmatch(head, -1) {
		routes = append(routes, RouteHandler{
			Path:       m[2],
			Method:     strings.ToUpper(m[1]),
			FunctionID: f.ID,
			FullName:   f.FullName(),
		})
	}

	for _, m := range springMappingRe.FindAllStringSubmatch(head, -1) {
		method := strings.ToUpper(m[1])
		if method == "REQUEST" {
			method = "" // RequestMapping doesn't specify a method
		}
		routes = append(routes, RouteHandler{
			Path:       m[2],
			Method:     method,
			FunctionID: f.ID,
			FullName:   f.FullName(),
		})
	}

	return routes
}

// extractBodyRoutes extracts routes registered by calls inside the body
// (gin-style .GET/.POST, Express-style app.get).
func extractBodyRoutes(f *store.Function, body string) []RouteHandler {
	var routes []RouteHandler

	seen := map[string]bool{}
	add := func(method, path string) {
		key := method + " " + path
		if seen[key] {
			return
		}
		seen[key] = true
		routes = append(routes, RouteHandler{
			Path:       path,
			Method:     method,
			FunctionID: f.ID,
			FullName:   f.FullName(),
		})
	}

	for _, m := range goRouteRe.FindAllStringSubmatch(body, -1) {
		add(strings.ToUpper(m[1]), m[2])
	}
	for _, m := range expressRouteRe.FindAllStringSubmatch(body, -1) {
		add(strings.ToUpper(m[1]), m[2])
	}

	return routes
}

// detectHTTPMethod tries to find the HTTP method used near a URL path in source code.
func detectHTTPMethod(source string) string {
	upper := strings.ToUpper(source)
	for _, verb := range []string{"POST", "PUT", "DELETE", "PATCH", "GET"} {
		// Python: requests.post(, httpx.post(
		if strings.Contains(upper, "REQUESTS."+verb+"(") || strings.Contains(upper, "HTTPX."+verb+"(") {
			return verb
		}
		// Go: "POST" near http.NewRequest
		if strings.Contains(upper, `"`+verb+`"`) && strings.Contains(upper, "HTTP.") {
			return verb
		}
		// JS: method: "POST", method: 'POST'
		if strings.Contains(upper, "METHOD") && strings.Contains(upper, verb) {
			return verb
		}
		// Java: HttpMethod.POST
		if strings.Contains(upper, "HTTPMETHOD."+verb) {
			return verb
		}
		// Client builder style: .post(, .get(
		if strings.Contains(source, "."+strings.ToLower(verb)+"(") {
			return verb
		}
	}
	return ""
}

// httpClientKeywords are patterns indicating actual HTTP client usage.
// A function must contain at least one of these to be considered an HTTP call site.
var httpClientKeywords = []string{
	// Python
	"requests.get", "requests.post", "requests.put", "requests.delete", "requests.patch",
	"httpx.", "aiohttp.", "urllib.request",
	// Go
	"http.Get", "http.Post", "http.NewRequest", "client.Do(",
	// JavaScript/TypeScript
	"fetch(", "axios.", ".ajax(",
	// Java
	"HttpClient", "RestTemplate", "WebClient", "OkHttpClient",
	"HttpURLConnection", "openConnection(",
	// Generic
	"send_request", "http_client",
}

// discoverCallSites finds HTTP URL references in function source.
func (l *Linker) discoverCallSites(rootPath string, funcs []*store.Function) []HTTPCallSite {
	var sites []HTTPCallSite
	for _, f := range funcs {
		sites = append(sites, extractCallSites(f, rootPath)...)
	}
	return sites
}

// extractCallSites extracts HTTP paths from one function's source.
func extractCallSites(f *store.Function, rootPath string) []HTTPCallSite {
	var sites []HTTPCallSite

	if f.FilePath == "" || f.Lineno <= 0 || f.EndLineno < f.Lineno {
		return sites
	}

	// Skip Python dunder methods — they configure, not call
	if strings.HasPrefix(f.Name, "__") && strings.HasSuffix(f.Name, "__") {
		return sites
	}

	source := readSourceLines(rootPath, f.FilePath, f.Lineno, f.EndLineno)
	if source == "" {
		return sites
	}

	// Require at least one HTTP client keyword to avoid false positives
	// from functions that merely store URL strings in variables
	hasHTTPClient := false
	for _, kw := range httpClientKeywords {
		if strings.Contains(source, kw) {
			hasHTTPClient = true
			break
		}
	}
	if !hasHTTPClient {
		return sites
	}

	method := detectHTTPMethod(source)

	for _, p := range extractURLPaths(source) {
		sites = append(sites, HTTPCallSite{
			Path:       p,
			Method:     method,
			FunctionID: f.ID,
			FullName:   f.FullName(),
		})
	}

	return sites
}

// externalDomains are well-known external API domains whose paths
// should not be matched against internal route handlers.
var externalDomains = []string{
	"googleapis.com",
	"google.com",
	"github.com",
	"gitlab.com",
	"docker.com",
	"docker.io",
	"npmjs.org",
	"pypi.org",
	"cloudflare.com",
	"sentry.io",
	"aws.amazon.com",
}

// isExternalDomain checks if a domain is a well-known external API.
func isExternalDomain(domain string) bool {
	domain = strings.ToLower(domain)
	for _, ext := range externalDomains {
		if domain == ext || strings.HasSuffix(domain, "."+ext) {
			return true
		}
	}
	return false
}

// defaultExcludePaths are generic endpoints that exist in nearly every
// service and would otherwise produce spurious cross-service links.
var defaultExcludePaths = []string{
	"/",
	"/health",
	"/healthz",
	"/livez",
	"/readyz",
	"/ping",
	"/status",
	"/metrics",
	"/version",
	"/docs",
	"/openapi.json",
	"/favicon.ico",
	"/robots.txt",
}

// isPathExcluded checks if a route path matches any of the given exclusion paths.
func isPathExcluded(path string, excludePaths []string) bool {
	normalized := strings.ToLower(strings.TrimRight(path, "/"))
	for _, excluded := range excludePaths {
		if strings.EqualFold(normalized, strings.TrimRight(excluded, "/")) {
			return true
		}
	}
	return false
}

// extractURLPaths finds URL path segments from text.
func extractURLPaths(text string) []string {
	seen := map[string]bool{}
	var paths []string

	// Full URLs: extract domain and path, skip external domains
	for _, m := range urlRe.FindAllStringSubmatch(text, -1) {
		domain := m[1]
		p := m[2]
		if isExternalDomain(domain) {
			continue
		}
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	// Quoted path literals
	for _, m := range pathRe.FindAllStringSubmatch(text, -1) {
		p := m[1]
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	// Try to extract URLs from embedded JSON strings (e.g., task queue payloads)
	for _, p := range extractJSONStringPaths(text) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	return paths
}

// extractJSONStringPaths tries to JSON-parse substrings that look like JSON
// and extract URL paths from string values within.
func extractJSONStringPaths(text string) []string {
	seen := make(map[string]bool)
	var paths []string

	for _, bounds := range findJSONBounds(text) {
		var parsed any
		if err := json.Unmarshal([]byte(bounds), &parsed); err != nil {
			continue
		}
		var raw []string
		walkJSONForURLs(parsed, &raw)
		for _, p := range raw {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}

	return paths
}

// findJSONBounds extracts substrings that look like JSON objects or arrays.
func findJSONBounds(text string) []string {
	var results []string
	for _, opener := range []byte{'{', '['} {
		closer := byte('}')
		if opener == '[' {
			closer = ']'
		}
		start := strings.IndexByte(text, opener)
		for start >= 0 && start < len(text) {
			depth := 0
			inStr := false
			for i := start; i < len(text); i++ {
				ch := text[i]
				if inStr {
					if ch == '\\' {
						i++ // skip escaped char
						continue
					}
					if ch == '"' {
						inStr = false
					}
					continue
				}
				if ch == '"' {
					inStr = true
				} else if ch == opener {
					depth++
				} else if ch == closer {
					depth--
					if depth == 0 {
						candidate := text[start : i+1]
						if len(candidate) > 5 { // skip trivially small
							results = append(results, candidate)
						}
						start = i + 1
						break
					}
				}
			}
			if depth != 0 {
				break
			}
			next := strings.IndexByte(text[start:], opener)
			if next < 0 {
				break
			}
			start += next
		}
	}
	return results
}

// walkJSONForURLs recursively walks parsed JSON and extracts URL paths.
func walkJSONForURLs(v any, out *[]string) {
	switch val := v.(type) {
	case map[string]any:
		for _, child := range val {
			walkJSONForURLs(child, out)
		}
	case []any:
		for _, child := range val {
			walkJSONForURLs(child, out)
		}
	case string:
		for _, m := range urlRe.FindAllStringSubmatch(val, -1) {
			if !isExternalDomain(m[1]) {
				*out = append(*out, m[2])
			}
		}
		for _, m := range pathRe.FindAllStringSubmatch(`"`+val+`"`, -1) {
			*out = append(*out, m[1])
		}
	}
}

// matchLinks matches call site paths to route handler paths.
// Uses multi-signal probabilistic scoring (path Jaccard, depth, method).
// Only reports links above the confidence threshold.
func (l *Linker) matchLinks(routes []RouteHandler, callSites []HTTPCallSite) []HTTPLink {
	minConf := l.opts.MinConfidence
	if minConf <= 0 {
		minConf = matchConfidenceThreshold
	}

	var links []HTTPLink
	for _, cs := range callSites {
		for _, rh := range routes {
			if cs.FunctionID == rh.FunctionID {
				continue
			}
			if sameService(cs.FullName, rh.FullName) {
				continue
			}

			score := pathMatchScore(cs.Path, rh.Path, l.opts.FuzzyMatching)
			if score == 0 {
				continue
			}
			score += methodBonus(cs.Method, rh.Method)
			if score < minConf {
				continue
			}
			if score > 1.0 {
				score = 1.0
			}

			links = append(links, HTTPLink{
				CallerName:  cs.FullName,
				HandlerName: rh.FullName,
				URLPath:     cs.Path,
				Method:      rh.Method,
				Confidence:  score,
				Band:        confidenceBand(score),
			})
		}
	}

	sort.Slice(links, func(i, j int) bool {
		if links[i].Confidence != links[j].Confidence {
			return links[i].Confidence > links[j].Confidence
		}
		if links[i].CallerName != links[j].CallerName {
			return links[i].CallerName < links[j].CallerName
		}
		return links[i].HandlerName < links[j].HandlerName
	})
	return links
}

// normalizePath normalizes a URL path for comparison.
func normalizePath(path string) string {
	path = strings.TrimRight(path, "/")
	path = colonParamRe.ReplaceAllString(path, "*")
	path = braceParamRe.ReplaceAllString(path, "*")
	return strings.ToLower(path)
}

// matchConfidenceThreshold is the default minimum score for an HTTP link.
const matchConfidenceThreshold = 0.25

// pathMatchScore returns a confidence score (0.0-1.0) for how well callPath
// matches routePath. Returns 0 if no match.
//
// Multi-signal scoring (inspired by RAD/Code2DFD research):
//
//	confidence = matchBase * (0.5*jaccard + 0.5*depthFactor)
//
// Where:
//
//	matchBase:   exact=0.95, suffix=0.75, wildcard=0.55
//	jaccard:     segment Jaccard similarity (non-wildcard segments)
//	depthFactor: min(matched_segments / 3.0, 1.0), longer paths = more specific
func pathMatchScore(callPath, routePath string, fuzzy bool) float64 {
	normCall := normalizePath(callPath)
	normRoute := normalizePath(routePath)

	if normCall == "" || normRoute == "" {
		return 0
	}

	// Determine structural match type
	var matchBase float64
	var matchedCallSegs, matchedRouteSegs []string

	if normCall == normRoute {
		matchBase = 0.95
		matchedCallSegs = splitSegments(normCall)
		matchedRouteSegs = splitSegments(normRoute)
	} else if strings.HasSuffix(normCall, normRoute) {
		matchBase = 0.75
		matchedCallSegs = splitSegments(normRoute) // use the route portion that matched
		matchedRouteSegs = splitSegments(normRoute)
	} else {
		// Segment-by-segment wildcard matching
		callParts := strings.Split(normCall, "/")
		routeParts := strings.Split(normRoute, "/")
		if len(callParts) != len(routeParts) {
			return 0
		}
		for i := range callParts {
			if callParts[i] == routeParts[i] || callParts[i] == "*" || routeParts[i] == "*" {
				continue
			}
			if fuzzy && fuzzySegmentEqual(callParts[i], routeParts[i]) {
				continue
			}
			return 0
		}
		matchBase = 0.55
		matchedCallSegs = splitSegments(normCall)
		matchedRouteSegs = splitSegments(normRoute)
	}

	// Jaccard similarity on non-empty, non-wildcard segments
	jaccard := segmentJaccard(matchedCallSegs, matchedRouteSegs, fuzzy)

	// Depth factor: more segments = more specific match
	totalSegs := len(matchedRouteSegs)
	depthFactor := float64(totalSegs) / 3.0
	if depthFactor > 1.0 {
		depthFactor = 1.0
	}

	score := matchBase * (0.5*jaccard + 0.5*depthFactor)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// splitSegments splits a normalized path into non-empty segments.
func splitSegments(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// segmentJaccard computes Jaccard similarity on non-wildcard path segments.
// Wildcards (*) are excluded from both sets since they match anything.
// With fuzzy enabled, near-equal segments count as intersecting.
func segmentJaccard(segsA, segsB []string, fuzzy bool) float64 {
	setA := make(map[string]bool)
	setB := make(map[string]bool)
	for _, s := range segsA {
		if s != "*" {
			setA[s] = true
		}
	}
	for _, s := range segsB {
		if s != "*" {
			setB[s] = true
		}
	}

	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	matchedB := make(map[string]bool)
	intersection := 0
	for a := range setA {
		if setB[a] {
			intersection++
			matchedB[a] = true
			continue
		}
		if !fuzzy {
			continue
		}
		for b := range setB {
			if !matchedB[b] && fuzzySegmentEqual(a, b) {
				intersection++
				matchedB[b] = true
				break
			}
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// methodBonus returns a confidence adjustment based on HTTP method matching.
//
//	+0.10 if both methods are known and match
//	 0.00 if one or both methods are unknown
//	-0.15 if both methods are known and mismatch
func methodBonus(callMethod, routeMethod string) float64 {
	if callMethod == "" || routeMethod == "" {
		return 0
	}
	if strings.EqualFold(callMethod, routeMethod) {
		return 0.10
	}
	return -0.15
}

// pathsMatch reports whether two paths score at or above the default threshold.
func pathsMatch(callPath, routePath string) bool {
	return pathMatchScore(callPath, routePath, true) >= matchConfidenceThreshold
}

// sameService checks if two full names share the same directory path.
// It strips the last 2 segments (module file + function/method name) from
// each name and compares the remaining prefix. Identical prefixes mean the
// functions live in the same deployable unit.
func sameService(name1, name2 string) bool {
	parts1 := strings.Split(name1, ".")
	parts2 := strings.Split(name2, ".")

	// Strip last 2 segments (module + name) to get directory path
	const strip = 2
	if len(parts1) <= strip || len(parts2) <= strip {
		return false
	}
	dir1 := strings.Join(parts1[:len(parts1)-strip], ".")
	dir2 := strings.Join(parts2[:len(parts2)-strip], ".")
	return dir1 == dir2
}

// readSourceLines reads specific lines from a file on disk.
func readSourceLines(rootPath, relPath string, startLine, endLine int) string {
	absPath := filepath.Join(rootPath, relPath)
	f, err := os.Open(absPath)
	if err != nil {
		return ""
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, scanner.Text())
		}
		if lineNum > endLine {
			break
		}
	}
	return strings.Join(lines, "\n")
}
