package campaign

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)(?:\|(title|upper|lower))?\}`)

var titleCaser = cases.Title(language.English)

// Renderer substitutes {placeholder} tokens in campaign templates with
// recipient personalization data. A token may carry a formatting
// modifier: {first_name|title}, {code|upper}, {city|lower}.
type Renderer struct{}

// NewRenderer creates a template renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Placeholders returns the distinct placeholder keys a template
// declares, sorted for stable output.
func (r *Renderer) Placeholders(template string) []string {
	seen := make(map[string]struct{})
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		seen[m[1]] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateData checks that data covers every placeholder the template
// declares. Returns a MissingPlaceholderError naming the first absent
// key in template order.
func (r *Renderer) ValidateData(template string, data map[string]string) error {
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if _, ok := data[m[1]]; !ok {
			return &MissingPlaceholderError{Placeholder: m[1]}
		}
	}
	return nil
}

// Render substitutes all placeholders. Undeclared data keys are
// ignored; a placeholder without a value fails with
// MissingPlaceholderError rather than leaking the raw token.
func (r *Renderer) Render(template string, data map[string]string) (string, error) {
	var missing *MissingPlaceholderError

	rendered := placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		m := placeholderPattern.FindStringSubmatch(token)
		value, ok := data[m[1]]
		if !ok {
			if missing == nil {
				missing = &MissingPlaceholderError{Placeholder: m[1]}
			}
			return token
		}
		return applyModifier(value, m[2])
	})

	if missing != nil {
		return "", missing
	}
	return rendered, nil
}

func applyModifier(value, modifier string) string {
	switch modifier {
	case "title":
		return titleCaser.String(value)
	case "upper":
		return strings.ToUpper(value)
	case "lower":
		return strings.ToLower(value)
	default:
		return value
	}
}

// RenderSubject renders the campaign subject line with the same
// placeholder rules as the body.
func (r *Renderer) RenderSubject(subject string, data map[string]string) (string, error) {
	rendered, err := r.Render(subject, data)
	if err != nil {
		return "", fmt.Errorf("render subject: %w", err)
	}
	return rendered, nil
}
