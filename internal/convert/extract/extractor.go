// Package extract adapts the content-extraction capability: raw HTML in,
// structured document out. go-readability isolates the article, then
// html-to-markdown converts it to Markdown-formatted text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/site2md/engine/pkg/types"
)

// ErrNoContent is returned when no meaningful content can be detected,
// instead of an empty success.
var ErrNoContent = errors.New("no extractable content")

// Extractor converts raw HTML into a Document. Side-effect free and
// safe for concurrent use.
type Extractor struct {
	conv   *converter.Converter
	logger *zap.Logger
}

// New creates an Extractor.
func New(logger *zap.Logger) *Extractor {
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	return &Extractor{
		conv:   conv,
		logger: logger,
	}
}

// Extract parses html fetched from pageURL and returns the extracted
// document. Malformed or partial HTML is tolerated; only the absence of
// meaningful content is an error.
func (e *Extractor) Extract(html []byte, pageURL *url.URL) (*types.Document, error) {
	if len(bytes.TrimSpace(html)) == 0 {
		return nil, ErrNoContent
	}

	article, err := readability.FromReader(bytes.NewReader(html), pageURL)
	if err != nil {
		e.logger.Debug("Readability extraction failed",
			zap.String("url", pageURL.String()),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrNoContent, err)
	}

	markdown, err := e.conv.ConvertString(article.Content)
	if err != nil {
		e.logger.Debug("Markdown conversion failed",
			zap.String("url", pageURL.String()),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrNoContent, err)
	}

	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return nil, ErrNoContent
	}

	return &types.Document{
		Title:     strings.TrimSpace(article.Title),
		Content:   markdown,
		URL:       pageURL.String(),
		FetchedAt: time.Now().UTC(),
	}, nil
}
