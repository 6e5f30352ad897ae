package classify

// CodeSynonyms maps natural language terms to code vocabulary
// equivalents. Standard information retrieval struggles on code because
// queries and symbols share little vocabulary ("read JSON data" vs
// deserialize_json_obj); expanding the user's terms toward code terms
// closes part of that gap.
//
// Design principles:
//  1. Map user vocabulary -> code vocabulary (not vice versa).
//  2. Include cross-language keyword variants (func, def, fn).
//  3. Include common abbreviations (req, resp, ctx, cfg).
var CodeSynonyms = map[string][]string{
	// Function/method terms.
	"function": {"func", "method", "fn", "def"},
	"method":   {"func", "fn", "function"},
	"func":     {"function", "method"},

	// Type terms.
	"class":     {"type", "struct", "interface"},
	"type":      {"class", "struct", "interface"},
	"struct":    {"class", "type"},
	"interface": {"protocol", "trait", "contract"},

	// Error handling.
	"error":     {"err", "exception", "failure"},
	"err":       {"error", "exception"},
	"exception": {"error", "err", "panic"},
	"handle":    {"handler", "catch", "process"},
	"handler":   {"handle", "callback"},
	"retry":     {"attempt", "backoff"},

	// HTTP / network.
	"request":  {"req", "http"},
	"response": {"resp", "reply"},
	"server":   {"serve", "listener", "daemon"},
	"endpoint": {"handler", "route", "api"},

	// Configuration / setup.
	"config":        {"cfg", "configuration", "settings", "options"},
	"configuration": {"config", "cfg", "settings"},
	"settings":      {"config", "options", "preferences"},
	"setup":         {"init", "initialize", "bootstrap"},
	"init":          {"initialize", "setup", "new"},

	// Data flow.
	"create": {"new", "make", "build", "init"},
	"delete": {"remove", "destroy", "drop"},
	"remove": {"delete", "evict", "drop"},
	"update": {"modify", "set", "change"},
	"get":    {"fetch", "read", "load", "find"},
	"fetch":  {"get", "retrieve", "load"},
	"read":   {"load", "parse", "get"},
	"write":  {"save", "store", "persist"},
	"save":   {"write", "store", "persist"},
	"parse":  {"decode", "unmarshal", "read"},
	"encode": {"marshal", "serialize"},
	"decode": {"unmarshal", "parse", "deserialize"},

	// Testing / running.
	"test":  {"tests", "testing", "spec"},
	"tests": {"test", "testing"},
	"run":   {"exec", "execute", "start", "launch"},
	"build": {"compile", "make"},

	// Search domain.
	"search": {"query", "find", "lookup"},
	"query":  {"search", "find"},
	"index":  {"indexes", "indices", "indexing"},
	"embed":  {"embedding", "vector"},
	"cache":  {"cached", "memoize", "lru"},

	// Auth.
	"auth":           {"authentication", "authorization", "login"},
	"authentication": {"auth", "login", "credentials"},
	"login":          {"auth", "signin", "session"},
}

// maxExpansionsPerTerm caps how many synonyms a single token may
// contribute, keeping expanded queries close to the original intent.
const maxExpansionsPerTerm = 3

// Expander expands query tokens with code-aware synonyms.
type Expander struct {
	synonyms map[string][]string
	maxPer   int
}

// DefaultExpander returns an expander over CodeSynonyms.
func DefaultExpander() *Expander {
	return &Expander{synonyms: CodeSynonyms, maxPer: maxExpansionsPerTerm}
}

// Expand returns tokens plus up to maxPer synonyms per token, deduped,
// original tokens first. Input order is preserved so downstream boosts
// that inspect "the first few tokens" see the user's own words.
func (e *Expander) Expand(tokens []string) []string {
	seen := make(map[string]bool, len(tokens)*2)
	out := make([]string, 0, len(tokens)*2)
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range tokens {
		syns := e.synonyms[t]
		n := 0
		for _, s := range syns {
			if n >= e.maxPer {
				break
			}
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
				n++
			}
		}
	}
	return out
}
