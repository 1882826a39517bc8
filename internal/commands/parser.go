// Package commands detects and executes comma-prefixed commands.
//
// Input starting with "," is either an internal command (a fixed set handled
// in-process) or a shell command line forwarded to the sandbox. Everything
// else is not a command and flows to the model.
package commands

import "strings"

// Kind classifies a detected command.
type Kind string

const (
	// KindInternal is a built-in command such as ,help or ,tape.info.
	KindInternal Kind = "internal"

	// KindShell is any other comma-prefixed line, executed in the shell
	// sandbox with Raw as the command line.
	KindShell Kind = "shell"
)

// internalCommands is the fixed set of built-in command names.
var internalCommands = map[string]bool{
	"help":            true,
	"quit":            true,
	"tape":            true,
	"tape.info":       true,
	"tape.reset":      true,
	"tape.search":     true,
	"tools":           true,
	"tool.describe":   true,
	"skills":          true,
	"skills.describe": true,
	"anchors":         true,
	"handoff":         true,
}

// Parsed is a detected command.
type Parsed struct {
	Kind Kind
	Name string
	Args []string
	// Raw is the full command body after the comma, used verbatim for
	// shell commands.
	Raw string
}

// Detect classifies a line of input. It returns nil when the line is empty
// or does not start with a comma.
func Detect(line string) *Parsed {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || !strings.HasPrefix(trimmed, ",") {
		return nil
	}
	body := strings.TrimSpace(trimmed[1:])
	if body == "" {
		return nil
	}

	tokens := Tokenize(body)
	if len(tokens) == 0 {
		return nil
	}

	name := tokens[0]
	if internalCommands[name] {
		return &Parsed{Kind: KindInternal, Name: name, Args: tokens[1:], Raw: body}
	}
	return &Parsed{Kind: KindShell, Name: name, Args: tokens[1:], Raw: body}
}

// Tokenize splits a command body into tokens with shell-style quoting:
// single quotes are literal, double quotes honor backslash escapes, and an
// unterminated quote keeps whatever it accumulated.
func Tokenize(body string) []string {
	var tokens []string
	var current strings.Builder
	inToken := false
	quote := byte(0)

	flush := func() {
		if inToken {
			tokens = append(tokens, current.String())
			current.Reset()
			inToken = false
		}
	}

	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case quote == '\'':
			if c == '\'' {
				quote = 0
			} else {
				current.WriteByte(c)
			}
		case quote == '"':
			if c == '\\' && i+1 < len(body) {
				i++
				current.WriteByte(body[i])
			} else if c == '"' {
				quote = 0
			} else {
				current.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inToken = true
		case c == ' ' || c == '\t' || c == '\n':
			flush()
		default:
			current.WriteByte(c)
			inToken = true
		}
	}
	flush()
	return tokens
}

// Args holds the parsed arguments of an internal command.
type Args struct {
	Positional []string
	Kwargs     map[string]string
	Flags      map[string]bool
}

// ParseArgs interprets internal-command tokens. "--k=v", "--k v" and "k=v"
// become kwargs, a bare "--k" becomes a flag, anything else is positional.
func ParseArgs(tokens []string) Args {
	args := Args{
		Kwargs: map[string]string{},
		Flags:  map[string]bool{},
	}
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case strings.HasPrefix(tok, "--"):
			key := tok[2:]
			if eq := strings.Index(key, "="); eq >= 0 {
				args.Kwargs[key[:eq]] = key[eq+1:]
				continue
			}
			if i+1 < len(tokens) && !strings.HasPrefix(tokens[i+1], "--") {
				args.Kwargs[key] = tokens[i+1]
				i++
				continue
			}
			args.Flags[key] = true
		default:
			if eq := strings.Index(tok, "="); eq > 0 {
				args.Kwargs[tok[:eq]] = tok[eq+1:]
				continue
			}
			args.Positional = append(args.Positional, tok)
		}
	}
	return args
}
