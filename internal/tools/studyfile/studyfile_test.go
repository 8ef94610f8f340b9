package studyfile

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func jsonOf(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &decoded))
	return decoded
}

func createSheet(t *testing.T, title string) string {
	t.Helper()
	tool := &CreateTool{}
	result, err := tool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{
		"title": title,
	})
	require.NoError(t, err)

	path, ok := jsonOf(t, result)["file_path"].(string)
	require.True(t, ok)
	return path
}

func appendSections(t *testing.T, path string, sections []any) {
	t.Helper()
	tool := &AppendTool{}
	_, err := tool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{
		"file_path": path,
		"sections":  sections,
	})
	require.NoError(t, err)
}

func TestCreateTool_WritesSkeleton(t *testing.T) {
	t.Chdir(t.TempDir())

	path := createSheet(t, "Organic Chemistry <1>")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "<!DOCTYPE html>")
	assert.Contains(t, content, "<h1>Organic Chemistry &lt;1&gt;</h1>")
	assert.NotContains(t, content, "<h1>Organic Chemistry <1></h1>")
}

func TestCreateTool_RequiresTitle(t *testing.T) {
	tool := &CreateTool{}
	_, err := tool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{"title": "  "})
	assert.ErrorContains(t, err, "title")
}

func TestAppendTool_InsertsSectionsInOrder(t *testing.T) {
	t.Chdir(t.TempDir())
	path := createSheet(t, "Thermodynamics")

	appendSections(t, path, []any{
		map[string]any{"heading": "First Law", "content": "<p>Energy is conserved.</p>"},
	})
	appendSections(t, path, []any{
		map[string]any{"heading": "Second Law", "content": "<p>Entropy increases.</p>"},
	})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	first := strings.Index(content, "<h2>First Law</h2>")
	second := strings.Index(content, "<h2>Second Law</h2>")
	require.Positive(t, first)
	require.Positive(t, second)
	assert.Less(t, first, second)
	assert.Contains(t, content, "<p>Entropy increases.</p>")
}

func TestAppendTool_RejectsSectionWithoutHeading(t *testing.T) {
	t.Chdir(t.TempDir())
	path := createSheet(t, "Optics")

	tool := &AppendTool{}
	_, err := tool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{
		"file_path": path,
		"sections":  []any{map[string]any{"content": "<p>no heading</p>"}},
	})
	assert.ErrorContains(t, err, "heading")
}

func TestFinishTool_WritesMarkdownRendition(t *testing.T) {
	t.Chdir(t.TempDir())
	path := createSheet(t, "Cell Division")
	appendSections(t, path, []any{
		map[string]any{"heading": "Mitosis", "content": "<p>Produces <strong>two</strong> identical cells.</p>"},
	})

	tool := &FinishTool{}
	result, err := tool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{
		"file_path": path,
	})
	require.NoError(t, err)

	body := jsonOf(t, result)
	assert.Equal(t, "success", body["status"])
	assert.EqualValues(t, 1, body["sections"])

	markdownPath, ok := body["markdown_file_path"].(string)
	require.True(t, ok)
	assert.Equal(t, strings.TrimSuffix(path, ".html")+".md", markdownPath)

	markdown, err := os.ReadFile(markdownPath)
	require.NoError(t, err)
	assert.Contains(t, string(markdown), "# Cell Division")
	assert.Contains(t, string(markdown), "## Mitosis")
	assert.Contains(t, string(markdown), "**two**")
}

func TestFinishTool_RejectsEmptySheet(t *testing.T) {
	t.Chdir(t.TempDir())
	path := createSheet(t, "Empty Sheet")

	tool := &FinishTool{}
	result, err := tool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{
		"file_path": path,
	})
	require.NoError(t, err)

	body := jsonOf(t, result)
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["error"], "no sections")
}

func TestFinishTool_MissingFile(t *testing.T) {
	tool := &FinishTool{}
	result, err := tool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{
		"file_path": "/nonexistent/sheet.html",
	})
	require.NoError(t, err)

	body := jsonOf(t, result)
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["error"], "not found")
}
