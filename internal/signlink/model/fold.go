package model

import (
	"strings"

	"golang.org/x/text/cases"
)

// FoldName returns the caseless form of a viewer or variable name.
// A cases.Caser keeps state, so one is built per call.
func FoldName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}
