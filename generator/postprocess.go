package generator

import (
	"regexp"
	"strings"
)

var placeholderRules = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:image|img|picture)_?(\d+)\.(?:jpe?g|png|gif|webp|bmp)\b`),
	regexp.MustCompile(`(?i)\bimg_?(\d+)\b`),
	regexp.MustCompile(`(?i)\bpicture_?(\d+)\b`),
}

// PostProcess 校验模型输出并统一图片占位符。
func PostProcess(backend, raw string) (string, error) {
	md := strings.TrimSpace(raw)
	if md == "" {
		return "", malformed(backend, "model returned empty markdown")
	}
	return NormalizePlaceholders(md), nil
}

// NormalizePlaceholders rewrites the image references models tend to invent
// (image3.jpg, img_3, picture3) to the canonical image_3. Tokens glued to a longer
// word or path are left alone.
func NormalizePlaceholders(text string) string {
	for _, re := range placeholderRules {
		text = rewrite(text, re)
	}
	return text
}

func rewrite(text string, re *regexp.Regexp) string {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if start > 0 && isWordGlue(text[start-1]) {
			continue
		}
		b.WriteString(text[last:start])
		b.WriteString("image_")
		b.WriteString(text[m[2]:m[3]])
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}

func isWordGlue(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return c == '_' || c == '/' || c == '.' || c == '-'
}

// previewText 截取前 limit 个字符，超出部分以省略号结尾。
func previewText(text string, limit int) string {
	r := []rune(strings.TrimSpace(text))
	if len(r) <= limit {
		return string(r)
	}
	return string(r[:limit]) + "..."
}
