package mailer

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Kind names a mail template family.
type Kind string

const (
	KindLogin   Kind = "login"
	KindWelcome Kind = "welcome"
)

var supported = []language.Tag{
	language.English, // fallback
	language.German,
}

var matcher = language.NewMatcher(supported)

// Composer renders localized mail bodies from the embedded templates.
type Composer struct {
	templates *template.Template
}

// NewComposer parses the embedded template set.
func NewComposer() (*Composer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("mailer: parse templates: %w", err)
	}
	return &Composer{templates: tmpl}, nil
}

// Compose renders one template for the closest supported language. The first
// line of the rendered text is the subject, the rest is the body.
func (c *Composer) Compose(kind Kind, lang string, data any) (subject, body string, err error) {
	tag, _ := language.MatchStrings(matcher, lang)
	base, _ := tag.Base()
	name := fmt.Sprintf("%s_%s.tmpl", kind, base.String())
	if c.templates.Lookup(name) == nil {
		name = fmt.Sprintf("%s_en.tmpl", kind)
	}
	var b strings.Builder
	if err := c.templates.ExecuteTemplate(&b, name, data); err != nil {
		return "", "", fmt.Errorf("mailer: render %s: %w", name, err)
	}
	rendered := strings.TrimLeft(b.String(), "\n")
	subject, body, found := strings.Cut(rendered, "\n")
	if !found {
		return "", "", fmt.Errorf("mailer: template %s has no body", name)
	}
	return strings.TrimSpace(subject), strings.TrimLeft(body, "\n"), nil
}
