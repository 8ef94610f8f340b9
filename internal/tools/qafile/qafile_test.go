package qafile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
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

// textOf extracts the single text payload of a tool result.
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

func createQAFile(t *testing.T, title, jobID string) string {
	t.Helper()
	tool := &CreateTool{}
	result, err := tool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{
		"title":  title,
		"icon":   "🧬",
		"job_id": jobID,
	})
	require.NoError(t, err)

	body := jsonOf(t, result)
	path, ok := body["file_path"].(string)
	require.True(t, ok)
	return path
}

func TestCreateTool_WritesEmptyFile(t *testing.T) {
	t.Chdir(t.TempDir())

	path := createQAFile(t, "Cell Biology", "job-123")
	assert.True(t, filepath.IsAbs(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var file File
	require.NoError(t, json.Unmarshal(data, &file))
	assert.Equal(t, "Cell Biology", file.Title)
	assert.Equal(t, "job-123", file.JobID)
	assert.Empty(t, file.QAPairs)
}

func TestCreateTool_RequiresTitleAndJobID(t *testing.T) {
	tool := &CreateTool{}

	_, err := tool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{"job_id": "j"})
	assert.ErrorContains(t, err, "title")

	_, err = tool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{"title": "t"})
	assert.ErrorContains(t, err, "job_id")
}

func TestWriteTool_AppendsAcrossCalls(t *testing.T) {
	t.Chdir(t.TempDir())
	path := createQAFile(t, "Chemistry", "job-w")

	tool := &WriteTool{}
	write := func(pairs []any) {
		t.Helper()
		_, err := tool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{
			"file_path": path,
			"content":   pairs,
		})
		require.NoError(t, err)
	}

	write([]any{
		map[string]any{"question": "What is a mole?", "answer": "6.022e23 entities"},
	})
	write([]any{
		map[string]any{"question": "pH of water?", "answer": "7"},
		map[string]any{"question": "Noble gases?", "answer": "Group 18"},
	})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var file File
	require.NoError(t, json.Unmarshal(data, &file))
	require.Len(t, file.QAPairs, 3)
	assert.Equal(t, "What is a mole?", file.QAPairs[0].Question)
	assert.Equal(t, "Group 18", file.QAPairs[2].Answer)
}

func TestWriteTool_RejectsIncompletePairs(t *testing.T) {
	t.Chdir(t.TempDir())
	path := createQAFile(t, "Physics", "job-x")

	tool := &WriteTool{}
	_, err := tool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{
		"file_path": path,
		"content":   []any{map[string]any{"question": "Only a question"}},
	})
	assert.ErrorContains(t, err, "question and answer")

	_, err = tool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{
		"file_path": path,
		"content":   []any{},
	})
	assert.ErrorContains(t, err, "at least one")
}

func TestFinishTool_GeneratesDeck(t *testing.T) {
	t.Chdir(t.TempDir())
	path := createQAFile(t, "History", "job-finish")

	writeTool := &WriteTool{}
	_, err := writeTool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{
		"file_path": path,
		"content": []any{
			map[string]any{"question": "When did WW2 end?", "answer": "1945"},
			map[string]any{"question": "First US president?", "answer": "Washington"},
		},
	})
	require.NoError(t, err)

	finishTool := &FinishTool{}
	result, err := finishTool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{
		"file_path": path,
	})
	require.NoError(t, err)

	body := jsonOf(t, result)
	assert.Equal(t, "success", body["status"])
	assert.EqualValues(t, 2, body["notes_added"])

	apkgPath, ok := body["apkg_file_path"].(string)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(filepath.Dir(path), DeckOutputDirName, "job-finish.apkg"), apkgPath)

	pkg, err := os.ReadFile(apkgPath)
	require.NoError(t, err)
	require.Greater(t, len(pkg), 2)
	assert.Equal(t, []byte{'P', 'K'}, pkg[:2])
}

func TestFinishTool_NoPairsSkipsDeck(t *testing.T) {
	t.Chdir(t.TempDir())
	path := createQAFile(t, "Empty", "job-empty")

	tool := &FinishTool{}
	result, err := tool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{
		"file_path": path,
	})
	require.NoError(t, err)

	body := jsonOf(t, result)
	assert.Equal(t, "success_no_cards", body["status"])
	assert.NoDirExists(t, filepath.Join(filepath.Dir(path), DeckOutputDirName))
}

func TestFinishTool_MissingFile(t *testing.T) {
	tool := &FinishTool{}
	result, err := tool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{
		"file_path": filepath.Join(t.TempDir(), "does-not-exist.json"),
	})
	require.NoError(t, err)

	body := jsonOf(t, result)
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["error"], "not found")
}

func TestContentTool_ConvertsHTML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sheet.html")
	html := `<html><body><h1>Photosynthesis</h1><p>Light into <strong>sugar</strong>.</p></body></html>`
	require.NoError(t, os.WriteFile(path, []byte(html), 0600))

	tool := &ContentTool{}
	result, err := tool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{
		"file_path": path,
	})
	require.NoError(t, err)

	text := textOf(t, result)
	assert.Contains(t, text, "# Photosynthesis")
	assert.Contains(t, text, "**sugar**")
	assert.NotContains(t, text, "<p>")
}

func TestContentTool_PlainFilesPassThrough(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Notes\nplain"), 0600))

	tool := &ContentTool{}
	result, err := tool.Execute(context.Background(), testLogger(), &sync.Map{}, map[string]any{
		"file_path": path,
	})
	require.NoError(t, err)
	assert.Equal(t, "# Notes\nplain", textOf(t, result))
}
