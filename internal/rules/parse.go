package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Rule rewrites a transcript and reports whether anything changed.
type Rule interface {
	Apply(input string) (output string, changed bool)
}

// Parser turns one rules-file line into a Rule.
type Parser interface {
	CanParse(line string) bool
	Parse(line string) (Rule, error)
}

// DefaultParsers understands sed-style regex rules and "from => to" literals.
func DefaultParsers() []Parser {
	return []Parser{sedParser{}, arrowParser{}}
}

// Parse compiles a rules file. Blank lines and # comments are skipped.
func Parse(contents string, parsers []Parser) ([]Rule, error) {
	if len(parsers) == 0 {
		parsers = DefaultParsers()
	}

	var out []Rule
	for number, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, err := parseLine(line, parsers)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", number+1, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

func parseLine(line string, parsers []Parser) (Rule, error) {
	for _, parser := range parsers {
		if parser.CanParse(line) {
			return parser.Parse(line)
		}
	}
	return nil, errors.New("unsupported rule format")
}

// arrowParser handles case-insensitive literal replacements such as "at sign => @".
type arrowParser struct{}

func (arrowParser) CanParse(line string) bool { return strings.Contains(line, "=>") }

func (arrowParser) Parse(line string) (Rule, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return nil, fmt.Errorf("invalid literal source: %w", err)
	}
	return replaceAll{re: re, replacement: strings.TrimSpace(to)}, nil
}

// sedParser handles s/pattern/replacement/flags with any non-alphanumeric delimiter.
// Patterns are case-insensitive; g replaces every match instead of the first.
type sedParser struct{}

func (sedParser) CanParse(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordByte(line[1])
}

func (sedParser) Parse(line string) (Rule, error) {
	if len(line) < 2 || isWordByte(line[1]) {
		return nil, errors.New("regex delimiter must be non-alphanumeric")
	}
	delim := line[1]

	pattern, next, err := scanDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, next, err := scanDelimited(line, next, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	inline := "i"
	global := false
	for _, flag := range strings.TrimSpace(line[next:]) {
		switch flag {
		case 'i', ' ':
		case 'g':
			global = true
		case 'm', 's':
			if !strings.ContainsRune(inline, flag) {
				inline += string(flag)
			}
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + inline + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	if global {
		return replaceAll{re: re, replacement: replacement}, nil
	}
	return replaceFirst{re: re, replacement: replacement}, nil
}

type replaceAll struct {
	re          *regexp.Regexp
	replacement string
}

func (r replaceAll) Apply(input string) (string, bool) {
	output := r.re.ReplaceAllString(input, r.replacement)
	return output, output != input
}

type replaceFirst struct {
	re          *regexp.Regexp
	replacement string
}

func (r replaceFirst) Apply(input string) (string, bool) {
	match := r.re.FindStringSubmatchIndex(input)
	if match == nil {
		return input, false
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, match)
	output := input[:match[0]] + string(expanded) + input[match[1]:]
	return output, output != input
}

// scanDelimited reads up to the next unescaped delim, keeping escapes for the regexp compiler.
func scanDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}
	var b strings.Builder
	for i := start; i < len(line); i++ {
		switch c := line[i]; {
		case c == '\\' && i+1 < len(line):
			b.WriteByte(c)
			b.WriteByte(line[i+1])
			i++
		case c == delim:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, errors.New("unterminated expression")
}

func isWordByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == ' ' || c == '\t'
}
