// Package cleaner prepares fetched HTML for language-model consumption:
// main-content extraction, noise stripping, Markdown conversion, and a
// hard size cap.
package cleaner

import (
	"log/slog"
	nurl "net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// maxContentChars caps what the extraction prompt carries. Beyond this
// the model's context budget is spent on page noise rather than answers.
const maxContentChars = 50000

// minContentLength is the minimum readability output length (chars) for
// the extraction to count as valid; below it the raw page is used.
const minContentLength = 50

// Cleaner converts raw page HTML into capped Markdown. The converter is
// created once and reused; it is goroutine-safe.
type Cleaner struct {
	mdConverter *converter.Converter
}

func New() *Cleaner {
	return &Cleaner{mdConverter: newMarkdownConverter()}
}

// Clean runs the pipeline: strip noise tags, extract main content via
// readability, convert to Markdown, cap the size. Every stage falls back
// rather than fails; the worst case is truncated raw text.
func (c *Cleaner) Clean(rawHTML, sourceURL string) string {
	stripped := stripNoise(rawHTML)

	content := stripped
	if article, ok := extractContent(stripped, sourceURL); ok {
		content = article.Content
	}

	md, err := c.mdConverter.ConvertString(content, converter.WithDomain(domainOf(sourceURL)))
	if err != nil {
		slog.Warn("cleaner: markdown conversion failed, using stripped HTML",
			"url", sourceURL, "error", err)
		md = content
	}

	md = strings.TrimSpace(md)
	if len(md) > maxContentChars {
		md = md[:maxContentChars]
	}
	return md
}

// newMarkdownConverter configures html-to-markdown v2 for model-bound
// output: the base plugin drops script/style/head noise, commonmark
// renders standard Markdown, and tables keep minimal cell padding so
// tabular data survives without burning tokens on alignment.
func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}

// stripNoise removes elements that never carry page content. Returns the
// input unchanged if it cannot be parsed.
func stripNoise(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return rawHTML
	}
	doc.Find("script, style, noscript, iframe, svg, link, meta").Remove()
	out, err := doc.Html()
	if err != nil {
		return rawHTML
	}
	return out
}

// extractContent runs the Mozilla Readability algorithm. The second
// return is false when the caller should keep the input instead.
func extractContent(rawHTML, sourceURL string) (readability.Article, bool) {
	parsedURL, err := nurl.Parse(sourceURL)
	if err != nil {
		return readability.Article{}, false
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), parsedURL)
	if err != nil {
		slog.Debug("cleaner: readability failed, keeping stripped HTML",
			"url", sourceURL, "error", err)
		return readability.Article{}, false
	}
	if len(strings.TrimSpace(article.TextContent)) < minContentLength {
		return readability.Article{}, false
	}
	return article, true
}

func domainOf(sourceURL string) string {
	u, err := nurl.Parse(sourceURL)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
