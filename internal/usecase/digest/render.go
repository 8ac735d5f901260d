package digest

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"tweet-digest/internal/domain"
)

const (
	subjectPrefix = "Daily AI Digest"
	footerText    = "This digest was automatically generated from your curated AI sources."
)

// Renderer превращает структурированный дайджест в письмо: markdown для
// текстовой части и HTML, полученный из того же markdown.
type Renderer struct {
	md  goldmark.Markdown
	loc *time.Location
}

// NewRenderer создаёт рендерер. Даты в письме выводятся в часовом поясе loc.
func NewRenderer(loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{md: goldmark.New(), loc: loc}
}

// Subject возвращает тему письма на дату now.
func (r *Renderer) Subject(now time.Time) string {
	return fmt.Sprintf("%s - %s", subjectPrefix, now.In(r.loc).Format("1/2/2006"))
}

// Markdown формирует текст дайджеста. Пустые разделы не выводятся.
func (r *Renderer) Markdown(d domain.StructuredDigest, scanned, selected int, now time.Time) string {
	var b strings.Builder
	b.WriteString("# Daily AI Digest\n\n")
	b.WriteString(now.In(r.loc).Format("Monday, January 2, 2006"))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "*(Scanned %d total posts → Selected %d key updates)*\n", scanned, selected)

	if len(d.GeneralUpdates) > 0 {
		b.WriteString("\n## General AI Industry Updates:\n\n")
		writeBullets(&b, d.GeneralUpdates)
	}

	if len(d.Launches) > 0 {
		b.WriteString("\n## Major Launches & Features:\n\n")
		b.WriteString("Please note these major launches for potential blog content:\n\n")
		writeBullets(&b, d.Launches)
	}

	if len(d.Tools) > 0 || len(d.ProductInspirations) > 0 || len(d.MarketingIdeas) > 0 {
		b.WriteString("\n## Product & Marketing Insights:\n")
		if len(d.Tools) > 0 {
			b.WriteString("\n### Cool tools & prototype ideas:\n\n")
			writeBullets(&b, d.Tools)
		}
		if len(d.ProductInspirations) > 0 {
			b.WriteString("\n### Product inspiration:\n\n")
			writeBullets(&b, d.ProductInspirations)
		}
		if len(d.MarketingIdeas) > 0 {
			b.WriteString("\n### Marketing ideas:\n\n")
			writeBullets(&b, d.MarketingIdeas)
		}
	}

	b.WriteString("\n---\n\n")
	b.WriteString(footerText)
	b.WriteString("\n")
	return b.String()
}

// Render собирает письмо для получателя.
func (r *Renderer) Render(d domain.StructuredDigest, recipient string, scanned, selected int, now time.Time) (domain.MailMessage, error) {
	text := r.Markdown(d, scanned, selected, now)
	var body bytes.Buffer
	if err := r.md.Convert([]byte(text), &body); err != nil {
		return domain.MailMessage{}, fmt.Errorf("рендер markdown: %w", err)
	}
	var page bytes.Buffer
	if err := emailTemplate.Execute(&page, struct {
		Title string
		Body  template.HTML
	}{
		Title: r.Subject(now),
		Body:  template.HTML(body.String()), //nolint: gosec
	}); err != nil {
		return domain.MailMessage{}, fmt.Errorf("рендер письма: %w", err)
	}
	return domain.MailMessage{
		To:        recipient,
		Subject:   r.Subject(now),
		HTMLBody:  page.String(),
		PlainBody: text,
	}, nil
}

func writeBullets(b *strings.Builder, items []domain.DigestItem) {
	for _, item := range items {
		text := escapeMarkdown(strings.TrimSpace(item.Text))
		if item.URL == "" {
			fmt.Fprintf(b, "- %s\n", text)
			continue
		}
		fmt.Fprintf(b, "- %s [Link](<%s>)\n", text, strings.NewReplacer("<", "%3C", ">", "%3E", " ", "%20").Replace(item.URL))
	}
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	"*", `\*`,
	"_", `\_`,
	"[", `\[`,
	"]", `\]`,
	"<", `\<`,
	">", `\>`,
	"#", `\#`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body style="background-color:#f6f9fc;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,'Helvetica Neue',Ubuntu,sans-serif;">
<div style="background-color:#ffffff;margin:0 auto;padding:20px 40px;max-width:600px;color:#374151;line-height:1.6;">
{{.Body}}
</div>
</body>
</html>
`))
