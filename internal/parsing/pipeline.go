package parsing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultMaxConcurrency bounds the number of simultaneous in-flight
// extraction calls so large documents don't overwhelm the remote model.
const DefaultMaxConcurrency = 10

// Pipeline fans out one extraction call per page and assembles the results
// into a single document in page order.
type Pipeline struct {
	Extractor      Extractor
	MaxConcurrency int
	Logger         *logrus.Logger
}

// NewPipeline creates a pipeline with the default concurrency ceiling.
func NewPipeline(extractor Extractor, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		Extractor:      extractor,
		MaxConcurrency: DefaultMaxConcurrency,
		Logger:         logger,
	}
}

// pageResult pairs a page's original index with its wrapped text.
type pageResult struct {
	index int
	text  string
}

// Run extracts every page concurrently and returns the assembled document:
// for each page in original index order, prefix + trimmed text + suffix,
// pages joined by a single newline. A failed page becomes a placeholder
// naming its 1-based number; only an empty page set is fatal.
func (p *Pipeline) Run(ctx context.Context, pages []Page, prefix, suffix string) (string, error) {
	if len(pages) == 0 {
		return "", ErrEmptyDocument
	}

	workers := p.MaxConcurrency
	if workers <= 0 {
		workers = DefaultMaxConcurrency
	}
	workers = min(workers, len(pages))

	pageChan := make(chan Page, len(pages))
	resultChan := make(chan pageResult, len(pages))

	for _, page := range pages {
		pageChan <- page
	}
	close(pageChan)

	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			for page := range pageChan {
				resultChan <- pageResult{
					index: page.Index,
					text:  p.extractPage(ctx, page, prefix, suffix),
				}
			}
		})
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]pageResult, 0, len(pages))
	for result := range resultChan {
		results = append(results, result)
	}

	// Completion order is arbitrary; output order is not.
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

	blocks := make([]string, len(results))
	for i, result := range results {
		blocks[i] = result.text
	}

	document := strings.Join(blocks, "\n")
	if strings.TrimSpace(document) == "" {
		return "", ErrEmptyDocument
	}

	if p.Logger != nil {
		p.Logger.WithFields(logrus.Fields{
			"pages": len(pages),
			"chars": len(document),
		}).Debug("Assembled document from pages")
	}

	return document, nil
}

// extractPage wraps one page's extracted text with the configured
// delimiters, substituting the placeholder when extraction fails.
func (p *Pipeline) extractPage(ctx context.Context, page Page, prefix, suffix string) string {
	text, err := p.Extractor.Extract(ctx, page)
	if err != nil {
		if p.Logger != nil {
			p.Logger.WithError(err).WithField("page", page.Index+1).Warn("Page extraction failed, inserting placeholder")
		}
		return prefix + fmt.Sprintf("[Error processing page %d]", page.Index+1) + suffix
	}
	return prefix + strings.TrimSpace(text) + suffix
}
