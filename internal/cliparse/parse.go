// Package cliparse tokenizes interactive REPL input lines the same way
// a shell would, so commands can carry quoted SCPI strings containing
// spaces (e.g. write "SOUR1:FUNC SIN").
package cliparse

import "github.com/google/shlex"

// SplitLine tokenizes line using shell-style quoting/escaping rules. An
// empty or whitespace-only line returns an empty slice and no error.
func SplitLine(line string) ([]string, error) {
	fields, err := shlex.Split(line)
	if err != nil {
		return nil, err
	}
	return fields, nil
}
