package publisher

import (
	"bytes"
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"feishu_article_studio/generator"
)

var (
	markdown      = goldmark.New(goldmark.WithExtensions(extension.GFM))
	imageRefRegex = regexp.MustCompile(`!\[[^\]]*\]\(([^)]+)\)`)
)

// RenderPreview renders the article to HTML. image_N references are inlined as
// data URIs from attachments (image_1 is attachments[0]); references without an
// attachment are left as written.
func RenderPreview(article string, attachments []generator.ImageAttachment) (string, error) {
	md := inlineAttachments(article, attachments)
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func inlineAttachments(md string, attachments []generator.ImageAttachment) string {
	matches := imageRefRegex.FindAllStringSubmatchIndex(md, -1)
	if len(matches) == 0 {
		return md
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[2], m[3]
		idx, ok := placeholderIndex(strings.TrimSpace(md[start:end]))
		if !ok || idx >= len(attachments) {
			continue
		}
		img := attachments[idx]
		b.WriteString(md[last:start])
		b.WriteString("data:")
		b.WriteString(mimeOrPNG(img.MIMEType))
		b.WriteString(";base64,")
		b.WriteString(base64.StdEncoding.EncodeToString(img.Data))
		last = end
	}
	b.WriteString(md[last:])
	return b.String()
}

// placeholderIndex maps image_N to the zero-based attachment index.
func placeholderIndex(ref string) (int, bool) {
	num, ok := strings.CutPrefix(ref, "image_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 {
		return 0, false
	}
	return n - 1, true
}

// PlaceholderName is the canonical placeholder for the attachment at index i.
func PlaceholderName(i int) string { return "image_" + strconv.Itoa(i+1) }

func mimeOrPNG(mt string) string {
	if mt == "" {
		return "image/png"
	}
	return mt
}
