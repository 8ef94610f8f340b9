// Package studyfile implements the agent tools that build HTML study sheets
// and render them to Markdown once finished.
package studyfile

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"github.com/SaschaKiebler/ankiBot/internal/registry"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
)

const sheetTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
<h1>%s</h1>
</body>
</html>
`

func init() {
	registry.Register(&CreateTool{})
	registry.Register(&AppendTool{})
	registry.Register(&FinishTool{})
}

func resultJSON(data any) (*mcp.CallToolResult, error) {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return mcp.NewToolResultText(string(encoded)), nil
}

// newMarkdownConverter builds the HTML to Markdown converter used when a
// sheet is finished.
func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
}

// CreateTool starts a new HTML study sheet.
type CreateTool struct{}

func (t *CreateTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"create_study_sheet",
		mcp.WithDescription("Create a new HTML study sheet. Returns the absolute file path to use with append_to_study_sheet."),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Title of the study sheet"),
		),
	)
}

func (t *CreateTool) Execute(ctx context.Context, logger *logrus.Logger, cache *sync.Map, args map[string]any) (*mcp.CallToolResult, error) {
	title, ok := args["title"].(string)
	if !ok || strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("missing or invalid required parameter: title")
	}

	escaped := html.EscapeString(title)
	content := fmt.Sprintf(sheetTemplate, escaped, escaped)

	filename := fmt.Sprintf("study_sheet_%s_%s.html", sanitizeFilename(title), uuid.NewString()[:8])
	if err := os.WriteFile(filename, []byte(content), 0600); err != nil {
		return nil, fmt.Errorf("failed to create study sheet: %w", err)
	}

	fullPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve study sheet path: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"title": title,
		"path":  fullPath,
	}).Info("Created study sheet")

	return resultJSON(map[string]any{
		"message":   fmt.Sprintf("Study sheet '%s' created.", title),
		"file_path": fullPath,
	})
}

// AppendTool adds sections to an existing study sheet.
type AppendTool struct{}

func (t *AppendTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"append_to_study_sheet",
		mcp.WithDescription(`Append sections to a study sheet. Each section is an object of the form {"heading": "...", "content": "<p>...</p>"} where content may contain HTML markup.`),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute path returned by create_study_sheet"),
		),
		mcp.WithArray("sections",
			mcp.Required(),
			mcp.Description("Sections to append, in order"),
		),
	)
}

func (t *AppendTool) Execute(ctx context.Context, logger *logrus.Logger, cache *sync.Map, args map[string]any) (*mcp.CallToolResult, error) {
	path, ok := args["file_path"].(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("missing or invalid required parameter: file_path")
	}
	rawSections, ok := args["sections"].([]any)
	if !ok {
		return nil, fmt.Errorf("missing or invalid required parameter: sections")
	}

	sections, err := parseSections(rawSections)
	if err != nil {
		return nil, err
	}

	fileLock := flock.New(path + ".lock")
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire write lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("could not acquire write lock on study sheet")
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			logger.WithError(err).Warn("Failed to release write lock")
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read study sheet: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse study sheet: %w", err)
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		return nil, fmt.Errorf("study sheet has no <body> element")
	}

	for _, section := range sections {
		body.AppendHtml(fmt.Sprintf("<section><h2>%s</h2>%s</section>", html.EscapeString(section.heading), section.content))
	}

	rendered, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to render study sheet: %w", err)
	}
	if err := os.WriteFile(path, []byte(rendered), 0600); err != nil {
		return nil, fmt.Errorf("failed to write study sheet: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"path":  path,
		"added": len(sections),
	}).Debug("Appended to study sheet")

	return mcp.NewToolResultText(fmt.Sprintf("%d section(s) appended to study sheet.", len(sections))), nil
}

// FinishTool validates a study sheet and writes its Markdown rendition.
type FinishTool struct{}

func (t *FinishTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"finish_study_sheet",
		mcp.WithDescription("Finish a study sheet: validate its structure and write a Markdown version next to the HTML file."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute path of the study sheet to finish"),
		),
	)
}

func (t *FinishTool) Execute(ctx context.Context, logger *logrus.Logger, cache *sync.Map, args map[string]any) (*mcp.CallToolResult, error) {
	path, ok := args["file_path"].(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("missing or invalid required parameter: file_path")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return resultJSON(map[string]any{"error": "Study sheet not found.", "file_path": path, "status": "error"})
		}
		return nil, fmt.Errorf("failed to read study sheet: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse study sheet: %w", err)
	}

	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		return resultJSON(map[string]any{"error": "Study sheet has no title heading.", "file_path": path, "status": "error"})
	}

	sectionCount := doc.Find("body section").Length()
	if sectionCount == 0 {
		return resultJSON(map[string]any{
			"error":     "Study sheet has no sections. Append content before finishing.",
			"file_path": path,
			"status":    "error",
		})
	}

	markdown, err := newMarkdownConverter().ConvertString(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to convert study sheet to markdown: %w", err)
	}

	markdownPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".md"
	if err := os.WriteFile(markdownPath, []byte(markdown), 0600); err != nil {
		return nil, fmt.Errorf("failed to write markdown rendition: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"title":    title,
		"sections": sectionCount,
		"path":     markdownPath,
	}).Info("Finished study sheet")

	return resultJSON(map[string]any{
		"message":            fmt.Sprintf("Study sheet '%s' finished.", title),
		"html_file_path":     path,
		"markdown_file_path": markdownPath,
		"sections":           sectionCount,
		"status":             "success",
	})
}

type section struct {
	heading string
	content string
}

// parseSections converts the raw tool argument into sections, requiring a
// heading on each.
func parseSections(raw []any) ([]section, error) {
	sections := make([]section, 0, len(raw))
	for i, entry := range raw {
		item, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("section %d is not an object", i)
		}
		heading, _ := item["heading"].(string)
		if strings.TrimSpace(heading) == "" {
			return nil, fmt.Errorf("section %d must have a heading", i)
		}
		content, _ := item["content"].(string)
		sections = append(sections, section{heading: heading, content: content})
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("sections must contain at least one entry")
	}
	return sections, nil
}

func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_", "..", "_")
	return replacer.Replace(s)
}
