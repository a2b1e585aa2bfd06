package sqlquery

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrNotReadOnly = errors.New("statement is not a single read-only SELECT")

var (
	fenceRe        = regexp.MustCompile("(?s)```(?:sql|postgresql|postgres)?\\s*(.*?)```")
	sqlPrefixRe    = regexp.MustCompile(`(?i)^\s*(?:sqlquery|sql)\s*:\s*`)
	stringLitRe    = regexp.MustCompile(`'(?:[^']|'')*'`)
	forbiddenRe    = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|drop|alter|create|truncate|grant|revoke|copy|into|call|do|vacuum|analyze|lock|listen|notify|set|reset|comment|security|pg_sleep|pg_read_file|lo_import|dblink)\b`)
	leadingRe      = regexp.MustCompile(`(?i)^\s*(select|with)\b`)
	lineCommentRe  = regexp.MustCompile(`--[^\n]*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// ExtractSQL pulls the statement out of a model reply, dropping markdown
// fences, an "SQLQuery:" label and a trailing semicolon.
func ExtractSQL(reply string) string {
	s := reply
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = sqlPrefixRe.ReplaceAllString(strings.TrimSpace(s), "")
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, ";"))
}

// ValidateReadOnly accepts exactly one SELECT (or WITH ... SELECT) statement
// with no data-changing or session-changing keywords outside string
// literals.
func ValidateReadOnly(stmt string) error {
	s := blockCommentRe.ReplaceAllString(stmt, " ")
	s = lineCommentRe.ReplaceAllString(s, " ")
	s = stringLitRe.ReplaceAllString(s, "''")
	s = strings.TrimSpace(s)

	if s == "" {
		return fmt.Errorf("%w: empty statement", ErrNotReadOnly)
	}
	if strings.Contains(s, ";") {
		return fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
	}
	if !leadingRe.MatchString(s) {
		return fmt.Errorf("%w: must start with SELECT or WITH", ErrNotReadOnly)
	}
	if m := forbiddenRe.FindString(s); m != "" {
		return fmt.Errorf("%w: %s is not allowed", ErrNotReadOnly, strings.ToUpper(m))
	}
	return nil
}

var ErrTableNotAllowed = errors.New("statement reads outside the article tables")

var (
	tokenRe = regexp.MustCompile(`"(?:[^"]|"")*"(?:\s*\.\s*(?:"(?:[^"]|"")*"|[A-Za-z_][\w$]*))*|[A-Za-z_][\w$]*(?:\s*\.\s*(?:"(?:[^"]|"")*"|[A-Za-z_][\w$]*|\*))*|''|[(),]|[^\s\w"'(),]+|\d+(?:\.\d+)?`)

	// Functions that read server state or run a query passed as a string.
	blockedFuncRe = regexp.MustCompile(`^(pg_\w+|lo_\w+|dblink\w*|current_setting|set_config|version|inet_\w+|\w+_to_xml\w*|ts_stat|ts_rewrite|txid_\w+|has_\w+_privilege|current_database|current_schemas?)$`)
	blockedNameRe = regexp.MustCompile(`^(pg_\w+|information_schema)$`)
)

// Keywords whose FROM belongs to the function call, not to a relation.
var fromFuncs = map[string]bool{"extract": true, "substring": true, "trim": true, "overlay": true}

// Words that close a FROM clause at their nesting level.
var fromEnd = map[string]bool{
	"where": true, "group": true, "having": true, "order": true, "limit": true, "offset": true,
	"fetch": true, "union": true, "except": true, "intersect": true, "window": true, "for": true,
}

type scope struct {
	fn     string
	inFrom bool
}

// ValidateTables accepts a statement only when every relation it reads from
// is one of allowed (optionally qualified with the public schema) or a CTE
// it defines itself, and it names no catalog relation or server-state
// function.
func ValidateTables(stmt string, allowed []string) error {
	s := blockCommentRe.ReplaceAllString(stmt, " ")
	s = lineCommentRe.ReplaceAllString(s, " ")
	s = stringLitRe.ReplaceAllString(s, "''")
	toks := tokenRe.FindAllString(s, -1)

	ok := make(map[string]bool, len(allowed))
	for _, t := range allowed {
		ok[strings.ToLower(t)] = true
	}
	for _, name := range cteNames(toks) {
		ok[name] = true
	}

	for i, tok := range toks {
		for _, part := range identParts(tok) {
			if blockedNameRe.MatchString(part) {
				return fmt.Errorf("%w: %s", ErrTableNotAllowed, part)
			}
		}
		if i+1 < len(toks) && toks[i+1] == "(" && isIdent(tok) {
			parts := identParts(tok)
			if blockedFuncRe.MatchString(parts[len(parts)-1]) {
				return fmt.Errorf("%w: %s()", ErrTableNotAllowed, parts[len(parts)-1])
			}
		}
	}

	scopes := []scope{{}}
	for i, tok := range toks {
		top := &scopes[len(scopes)-1]
		switch tok {
		case "(":
			prev := ""
			if i > 0 {
				prev = strings.ToLower(toks[i-1])
			}
			scopes = append(scopes, scope{fn: prev})
			continue
		case ")":
			if len(scopes) > 1 {
				scopes = scopes[:len(scopes)-1]
			}
			continue
		case ",":
			if top.inFrom {
				if err := checkRelation(toks, i+1, ok); err != nil {
					return err
				}
			}
			continue
		}

		word := strings.ToLower(tok)
		switch {
		case word == "from" && (fromFuncs[top.fn] || (i > 0 && strings.EqualFold(toks[i-1], "distinct"))):
		case word == "from" || word == "join":
			top.inFrom = true
			if err := checkRelation(toks, i+1, ok); err != nil {
				return err
			}
		case word == "table":
			if err := checkRelation(toks, i+1, ok); err != nil {
				return err
			}
		case fromEnd[word]:
			top.inFrom = false
		}
	}
	return nil
}

// checkRelation checks the from-item starting at toks[i]. Subqueries are
// checked as the walk descends into them.
func checkRelation(toks []string, i int, ok map[string]bool) error {
	for i < len(toks) {
		if w := strings.ToLower(toks[i]); w != "lateral" && w != "only" {
			break
		}
		i++
	}
	if i >= len(toks) || toks[i] == "(" {
		return nil
	}
	if !isIdent(toks[i]) {
		return fmt.Errorf("%w: unexpected %q in FROM", ErrTableNotAllowed, toks[i])
	}
	if i+1 < len(toks) && toks[i+1] == "(" {
		return fmt.Errorf("%w: function %s in FROM", ErrTableNotAllowed, toks[i])
	}
	if !relationAllowed(toks[i], ok) {
		return fmt.Errorf("%w: %s", ErrTableNotAllowed, toks[i])
	}
	return nil
}

func relationAllowed(tok string, ok map[string]bool) bool {
	parts := identParts(tok)
	switch len(parts) {
	case 1:
		return ok[parts[0]]
	case 2:
		return parts[0] == "public" && ok[parts[1]]
	}
	return false
}

// cteNames finds "name AS (" and "name (cols) AS (" definitions.
func cteNames(toks []string) []string {
	var names []string
	for i := 1; i+1 < len(toks); i++ {
		if !strings.EqualFold(toks[i], "as") {
			continue
		}
		j := i + 1
		for j < len(toks) && (strings.EqualFold(toks[j], "not") || strings.EqualFold(toks[j], "materialized")) {
			j++
		}
		if j >= len(toks) || toks[j] != "(" {
			continue
		}
		k := i - 1
		if toks[k] == ")" {
			depth := 0
			for ; k >= 0; k-- {
				if toks[k] == ")" {
					depth++
				} else if toks[k] == "(" {
					depth--
					if depth == 0 {
						break
					}
				}
			}
			k--
		}
		if k >= 0 && isIdent(toks[k]) {
			if parts := identParts(toks[k]); len(parts) == 1 {
				names = append(names, parts[0])
			}
		}
	}
	return names
}

func isIdent(tok string) bool {
	if tok == "" {
		return false
	}
	c := tok[0]
	return c == '"' || c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// identParts splits a possibly qualified identifier, folding unquoted parts
// to lower case the way PostgreSQL does.
func identParts(tok string) []string {
	if !isIdent(tok) {
		return nil
	}
	var parts []string
	for len(tok) > 0 {
		tok = strings.TrimLeft(tok, " \t\n\r.")
		if tok == "" {
			break
		}
		if tok[0] == '"' {
			end := 1
			for end < len(tok) {
				if tok[end] == '"' {
					if end+1 < len(tok) && tok[end+1] == '"' {
						end += 2
						continue
					}
					break
				}
				end++
			}
			parts = append(parts, strings.ReplaceAll(tok[1:end], `""`, `"`))
			if end+1 > len(tok) {
				break
			}
			tok = tok[end+1:]
			continue
		}
		end := strings.IndexAny(tok, " \t\n\r.")
		if end < 0 {
			end = len(tok)
		}
		parts = append(parts, strings.ToLower(tok[:end]))
		tok = tok[end:]
	}
	return parts
}
