package template

import (
	"strings"
)

const unsetBound = "未设置"

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeHTML escapes the five HTML-significant characters
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// ComposeBody renders the plain-text mail body of v
func ComposeBody(v Version) string {
	lines := []string{v.Opening, "", v.Body}

	if v.StartAt != "" || v.EndAt != "" {
		lines = append(lines, "", "生效时段："+orUnset(v.StartAt)+" ~ "+orUnset(v.EndAt))
	}

	if v.FallbackContact != "" {
		lines = append(lines, "联系邮箱："+v.FallbackContact)
	}

	if v.Signature != "" {
		lines = append(lines, "", v.Signature)
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ComposeHTML renders the composed body as escaped lines joined by <br>
func ComposeHTML(v Version) string {
	return TextToHTML(ComposeBody(v))
}

// PreviewText is the plain-text copy format: subject header plus body
func PreviewText(v Version) string {
	return "主题：" + v.Subject + "\n\n" + ComposeBody(v)
}

// PreviewHTML is the HTML copy format
func PreviewHTML(v Version) string {
	return "<p><strong>主题：</strong>" + EscapeHTML(v.Subject) + "</p><p>" + ComposeHTML(v) + "</p>"
}

// PreviewSubject returns the subject for display
func PreviewSubject(v Version) string {
	if v.Subject == "" {
		return "(无主题)"
	}
	return v.Subject
}

// TextToHTML escapes each line of text and joins the lines with <br>
func TextToHTML(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = EscapeHTML(line)
	}
	return strings.Join(lines, "<br>")
}

func orUnset(s string) string {
	if s == "" {
		return unsetBound
	}
	return s
}
