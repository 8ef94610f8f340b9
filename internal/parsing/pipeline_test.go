package parsing

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExtractor returns canned text per page index and can fail selected
// pages or delay to shuffle completion order.
type fakeExtractor struct {
	failPages map[int]bool
	delays    map[int]time.Duration
	text      func(index int) string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeExtractor) Extract(ctx context.Context, page Page) (string, error) {
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		observed := f.maxInFlight.Load()
		if current <= observed || f.maxInFlight.CompareAndSwap(observed, current) {
			break
		}
	}

	if delay, ok := f.delays[page.Index]; ok {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if f.failPages[page.Index] {
		return "", &ExtractionError{Page: page.Index, Err: fmt.Errorf("model unavailable")}
	}

	if f.text != nil {
		return f.text(page.Index), nil
	}
	return fmt.Sprintf("page %d content", page.Index+1), nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func makePages(n int) []Page {
	pages := make([]Page, n)
	for i := range pages {
		pages[i] = Page{Index: i, Data: []byte{0x1}, MIME: "image/png"}
	}
	return pages
}

func TestPipeline_PreservesPageOrder(t *testing.T) {
	// Early pages finish last; output order must not care.
	extractor := &fakeExtractor{
		delays: map[int]time.Duration{
			0: 60 * time.Millisecond,
			1: 30 * time.Millisecond,
		},
	}
	pipeline := NewPipeline(extractor, testLogger())

	document, err := pipeline.Run(context.Background(), makePages(4), "<", ">")
	require.NoError(t, err)

	expected := strings.Join([]string{
		"<page 1 content>",
		"<page 2 content>",
		"<page 3 content>",
		"<page 4 content>",
	}, "\n")
	assert.Equal(t, expected, document)
}

func TestPipeline_DelimiterCountMatchesPages(t *testing.T) {
	extractor := &fakeExtractor{}
	pipeline := NewPipeline(extractor, testLogger())

	const pages = 7
	document, err := pipeline.Run(context.Background(), makePages(pages), "\n---\n", "\n===\n")
	require.NoError(t, err)

	assert.Equal(t, pages, strings.Count(document, "\n---\n"))
	assert.Equal(t, pages, strings.Count(document, "\n===\n"))
}

func TestPipeline_TrimsExtractedText(t *testing.T) {
	extractor := &fakeExtractor{
		text: func(index int) string { return "  \n# Heading\n\n" },
	}
	pipeline := NewPipeline(extractor, testLogger())

	document, err := pipeline.Run(context.Background(), makePages(1), "[", "]")
	require.NoError(t, err)
	assert.Equal(t, "[# Heading]", document)
}

func TestPipeline_FailedPageBecomesPlaceholder(t *testing.T) {
	extractor := &fakeExtractor{failPages: map[int]bool{1: true}}
	pipeline := NewPipeline(extractor, testLogger())

	document, err := pipeline.Run(context.Background(), makePages(3), "<", ">")
	require.NoError(t, err)

	blocks := strings.Split(document, "\n")
	require.Len(t, blocks, 3)
	assert.Equal(t, "<page 1 content>", blocks[0])
	assert.Equal(t, "<[Error processing page 2]>", blocks[1])
	assert.Equal(t, "<page 3 content>", blocks[2])
}

func TestPipeline_ZeroPagesIsFatal(t *testing.T) {
	pipeline := NewPipeline(&fakeExtractor{}, testLogger())

	_, err := pipeline.Run(context.Background(), nil, "<", ">")
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestPipeline_EmptyAssembledDocumentIsFatal(t *testing.T) {
	extractor := &fakeExtractor{text: func(int) string { return "   " }}
	pipeline := NewPipeline(extractor, testLogger())

	_, err := pipeline.Run(context.Background(), makePages(2), "", "")
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestPipeline_BoundsConcurrentExtractions(t *testing.T) {
	extractor := &fakeExtractor{delays: map[int]time.Duration{}}
	for i := range 20 {
		extractor.delays[i] = 20 * time.Millisecond
	}

	pipeline := NewPipeline(extractor, testLogger())
	pipeline.MaxConcurrency = 3

	_, err := pipeline.Run(context.Background(), makePages(20), "<", ">")
	require.NoError(t, err)
	assert.LessOrEqual(t, extractor.maxInFlight.Load(), int32(3))
}
