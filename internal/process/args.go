package process

import (
	"errors"
	"strings"
)

// SplitArgs splits an argument string the way a POSIX shell would split
// words, without expansion: whitespace separates, single quotes are literal,
// double quotes allow \" \\ \$ \` escapes, a backslash outside quotes escapes
// the next character. Shell operators such as ; | & < > are ordinary
// characters; there is no shell to give them meaning.
func SplitArgs(s string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			if quote == '"' && !strings.ContainsRune("\"\\$`", r) {
				cur.WriteRune('\\')
			}
			cur.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escaped = true
			default:
				cur.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			inWord = true
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if escaped {
		return nil, errors.New("trailing backslash in arguments")
	}
	if quote != 0 {
		return nil, errors.New("unterminated quote in arguments")
	}
	if inWord {
		args = append(args, cur.String())
	}
	return args, nil
}
