package classify

import (
	"regexp"
	"strings"
)

// Compiled regex patterns for query classification.
var (
	// File paths: path/to/file.ext with a plausible 1-6 alnum extension,
	// or anything containing a path separator.
	fileExtPattern = regexp.MustCompile(`\.[A-Za-z0-9]{1,6}$`)

	// Technical identifiers.
	camelCasePattern      = regexp.MustCompile(`^[a-z]+([A-Z][a-z0-9]*)+$`)
	pascalCasePattern     = regexp.MustCompile(`^([A-Z][a-z0-9]*){2,}$`)
	snakeCasePattern      = regexp.MustCompile(`^[A-Za-z]+(_[A-Za-z0-9]+)+$`)
	screamingSnakePattern = regexp.MustCompile(`^[A-Z]+(_[A-Z0-9]+)+$`)

	// Natural language starters (questions, commands).
	naturalLanguagePattern = regexp.MustCompile(`(?i)^(how|what|where|why|when|which|can|does|is|are|should|explain|describe|show|find|list)\s`)
)

// Classify runs the full classifier pass: type, weights, tokens, anchor,
// synonym expansion.
func Classify(query string) Classification {
	query = strings.TrimSpace(query)
	tokens := Tokenize(query)
	qt := classifyQuery(query, tokens)
	c := Classification{
		Type:    qt,
		Weights: WeightsForQueryType(qt),
		Tokens:  tokens,
		Anchor:  SymbolAnchor(query),
	}
	c.Expanded = DefaultExpander().Expand(tokens)
	return c
}

// LooksLikePath reports whether a single token plausibly names a file:
// it contains a path separator or ends in a short alnum extension.
func LooksLikePath(token string) bool {
	if strings.ContainsAny(token, `/\`) {
		return true
	}
	return fileExtPattern.MatchString(token)
}

// IsIdentifierLike reports whether a token has the shape of a code
// symbol: camelCase, PascalCase, snake_case, or SCREAMING_SNAKE.
func IsIdentifierLike(token string) bool {
	return camelCasePattern.MatchString(token) ||
		pascalCasePattern.MatchString(token) ||
		snakeCasePattern.MatchString(token) ||
		screamingSnakePattern.MatchString(token)
}

func classifyQuery(query string, tokens []string) QueryType {
	if query == "" {
		return QueryTypeConceptual
	}

	fields := strings.Fields(query)

	// A single token that looks like a file reference is a path query.
	if len(fields) == 1 && LooksLikePath(fields[0]) {
		return QueryTypePath
	}

	// Natural language starters are conceptual regardless of what
	// identifiers follow ("how does parseConfig work").
	if naturalLanguagePattern.MatchString(query) {
		return QueryTypeConceptual
	}

	// Any identifier-shaped field makes the query identifier-typed;
	// this also covers mixed queries like "parseConfig error handling".
	for _, f := range fields {
		if IsIdentifierLike(f) {
			return QueryTypeIdentifier
		}
	}

	// Short keyword-ish queries still target symbols more often than
	// concepts; three or more plain words read as a description.
	if len(tokens) <= 2 {
		return QueryTypeIdentifier
	}
	return QueryTypeConceptual
}

// SymbolAnchor picks the best identifier-like token from the query, or
// "" when nothing qualifies. Scoring: token length, +50 for snake_case,
// +20 for digits, +30 for mixed case. The anchor drives the direct
// symbol match and the fuzzy query for identifier-typed searches.
func SymbolAnchor(query string) string {
	best := ""
	bestScore := 0
	for _, f := range strings.Fields(query) {
		f = strings.Trim(f, `"'().,;:`)
		if f == "" || LooksLikePath(f) && strings.ContainsAny(f, `/\`) {
			continue
		}
		score := anchorScore(f)
		if score > bestScore {
			best = f
			bestScore = score
		}
	}
	return best
}

func anchorScore(token string) int {
	if !IsIdentifierLike(token) {
		return 0
	}
	score := len(token)
	if strings.Contains(token, "_") {
		score += 50
	}
	if strings.ContainsAny(token, "0123456789") {
		score += 20
	}
	hasLower := strings.IndexFunc(token, func(r rune) bool { return r >= 'a' && r <= 'z' }) >= 0
	hasUpper := strings.IndexFunc(token, func(r rune) bool { return r >= 'A' && r <= 'Z' }) >= 0
	if hasLower && hasUpper {
		score += 30
	}
	return score
}
