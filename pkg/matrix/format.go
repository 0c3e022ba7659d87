// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package matrix

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"
)

var (
	strongRe     = regexp.MustCompile(`<strong>(.*?)</strong>`)
	bRe          = regexp.MustCompile(`<b>(.*?)</b>`)
	emRe         = regexp.MustCompile(`<em>(.*?)</em>`)
	iRe          = regexp.MustCompile(`<i>(.*?)</i>`)
	delRe        = regexp.MustCompile(`<del>(.*?)</del>`)
	codeRe       = regexp.MustCompile(`<code>(.*?)</code>`)
	preRe        = regexp.MustCompile(`(?s)<pre><code[^>]*>(.*?)</code></pre>`)
	linkRe       = regexp.MustCompile(`<a href="([^"]+)"[^>]*>(.*?)</a>`)
	brRe         = regexp.MustCompile(`<br\s*/?>`)
	blockquoteRe = regexp.MustCompile(`(?s)<blockquote>(.*?)</blockquote>`)
	headingRe    = regexp.MustCompile(`<h([1-6])>(.*?)</h[1-6]>`)
	listRe       = regexp.MustCompile(`(?s)<(ul|ol)>(.*?)</(?:ul|ol)>`)
	liRe         = regexp.MustCompile(`<li>(.*?)</li>`)
	pRe          = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
)

// parseContent converts Matrix message content to markdown the other side
// can render. Plain-text messages pass through untouched.
func parseContent(content *event.MessageEventContent) string {
	if content == nil {
		return ""
	}
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		return content.Body
	}

	text := content.FormattedBody

	// Code first so its contents survive the other rules.
	text = preRe.ReplaceAllString(text, "```\n$1\n```")
	text = codeRe.ReplaceAllString(text, "`$1`")

	text = strongRe.ReplaceAllString(text, "**$1**")
	text = bRe.ReplaceAllString(text, "**$1**")
	text = emRe.ReplaceAllString(text, "_${1}_")
	text = iRe.ReplaceAllString(text, "_${1}_")
	text = delRe.ReplaceAllString(text, "~~$1~~")

	text = linkRe.ReplaceAllString(text, "[$2]($1)")

	text = headingRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := headingRe.FindStringSubmatch(match)
		level, _ := strconv.Atoi(parts[1])
		return strings.Repeat("#", level) + " " + parts[2]
	})

	text = blockquoteRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := blockquoteRe.FindStringSubmatch(match)
		lines := strings.Split(strings.TrimSpace(parts[1]), "\n")
		for i, line := range lines {
			lines[i] = "> " + strings.TrimSpace(line)
		}
		return strings.Join(lines, "\n")
	})

	text = listRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := listRe.FindStringSubmatch(match)
		ordered := parts[1] == "ol"
		items := liRe.FindAllStringSubmatch(parts[2], -1)
		lines := make([]string, 0, len(items))
		for i, item := range items {
			marker := "- "
			if ordered {
				marker = strconv.Itoa(i+1) + ". "
			}
			lines = append(lines, marker+strings.TrimSpace(item[1]))
		}
		return strings.Join(lines, "\n")
	})

	text = pRe.ReplaceAllString(text, "$1\n\n")
	text = brRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)

	return strings.TrimSpace(text)
}
