package main

import (
	"fmt"
	"strings"
	"unicode"
)

// targetPath is derived from operator input and never stored. The parse is
// one-way and lossy: anything that is not a letter or a digit is discarded.
type targetPath struct {
	Category string
	Letters  string
	Digits   string
}

// Rel returns the relative storage path: {category/}{letters}/lift-{digits}.
func (t targetPath) Rel() string {
	rel := fmt.Sprintf("%s/lift-%s", t.Letters, t.Digits)
	if t.Category != "" {
		return t.Category + "/" + rel
	}
	return rel
}

// resolveTarget extracts the letters and digits segments from a free-text
// folder label. Letters are lowercased; ordering within each segment follows
// the label. Every letter in the label contributes to the segment, so a
// compound label like "Finance-456" yields letters "finance" — see DESIGN.md
// for the product ambiguity around multi-word labels.
func resolveTarget(category, label string) (targetPath, error) {
	var letters, digits strings.Builder
	for _, r := range label {
		switch {
		case unicode.IsLetter(r):
			letters.WriteRune(unicode.ToLower(r))
		case unicode.IsDigit(r):
			digits.WriteRune(r)
		}
	}
	if letters.Len() == 0 || digits.Len() == 0 {
		return targetPath{}, failKind(ErrKindLabelFormat,
			"label %q must contain at least one letter and one digit", label)
	}
	return targetPath{
		Category: category,
		Letters:  letters.String(),
		Digits:   digits.String(),
	}, nil
}

// detectCategory guesses the category from the source file path by scanning
// for a known category name, case-insensitively. Used only to seed the
// confirmation form; the operator has the final say.
func detectCategory(profile *StorageProfile, filePath string) string {
	lower := strings.ToLower(filePath)
	for _, c := range profile.ValidCategories {
		if strings.Contains(lower, strings.ToLower(c)) {
			return strings.ToLower(c)
		}
	}
	return ""
}

// validCategory reports whether category is allowed by the profile.
func validCategory(profile *StorageProfile, category string) bool {
	if !profile.UsesCategory {
		return true
	}
	for _, c := range profile.ValidCategories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}
