package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var digestTemplate = template.Must(template.New("digest.html").Funcs(template.FuncMap{
	"join":  strings.Join,
	"score": func(f float64) string { return fmt.Sprintf("%.1f", f) },
}).ParseFS(templateFS, "templates/digest.html"))

// DigestPaper is one accepted paper as shown in a digest.
type DigestPaper struct {
	ID       string
	Title    string
	URL      string
	Authors  []string
	Summary  string
	Keywords []string
	Score    float64
	Reason   string
}

type Digest struct {
	Date   string
	Email  string
	Papers []DigestPaper
}

// Subject is the digest's mail subject.
func (d Digest) Subject() string {
	return fmt.Sprintf("Paper digest for %s: %d paper(s)", d.Date, len(d.Papers))
}

// RenderDigest renders the HTML body of d.
func RenderDigest(d Digest) (string, error) {
	var b bytes.Buffer
	if err := digestTemplate.Execute(&b, d); err != nil {
		return "", fmt.Errorf("failed to render digest: %w", err)
	}

	return b.String(), nil
}
