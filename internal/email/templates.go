package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

var messageTemplate = template.Must(template.New("message").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body style="font-family: Arial, sans-serif; line-height: 1.5; color: #222;">
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}</body>
</html>
`))

type messageData struct {
	Subject    string
	Paragraphs []string
}

// renderMessage wraps a plain-text body into HTML, one paragraph per blank-line
// separated block. Text is escaped by html/template.
func renderMessage(subject, body string) (string, error) {
	data := messageData{Subject: subject}
	for _, block := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		if block = strings.TrimSpace(block); block != "" {
			data.Paragraphs = append(data.Paragraphs, block)
		}
	}

	var buf bytes.Buffer
	if err := messageTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}
