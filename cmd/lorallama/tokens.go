package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parseTokens reads token ids separated by commas and/or whitespace.
func parseTokens(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("no tokens given")
	}
	tokens := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("token %d: %q is not an integer", i, f)
		}
		tokens[i] = v
	}
	return tokens, nil
}
