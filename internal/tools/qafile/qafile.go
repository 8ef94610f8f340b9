// Package qafile implements the agent tools that assemble question/answer
// study files and turn a finished file into an Anki deck.
package qafile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/SaschaKiebler/ankiBot/internal/anki"
	"github.com/SaschaKiebler/ankiBot/internal/registry"
	"github.com/gofrs/flock"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
)

// DeckOutputDirName is created next to a finished QA file to hold the
// generated .apkg packages.
const DeckOutputDirName = "anki_decks_output"

// File is the on-disk shape of a QA study file.
type File struct {
	Title   string        `json:"title"`
	Icon    string        `json:"icon"`
	JobID   string        `json:"job_id"`
	QAPairs []anki.QAPair `json:"qa_pairs"`
}

func init() {
	registry.Register(&CreateTool{})
	registry.Register(&WriteTool{})
	registry.Register(&FinishTool{})
	registry.Register(&ContentTool{})
}

// lockFor guards a QA file against concurrent tool calls, including from
// other server processes pointed at the same directory.
func lockFor(path string) *flock.Flock {
	return flock.New(path + ".lock")
}

func resultJSON(data any) (*mcp.CallToolResult, error) {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return mcp.NewToolResultText(string(encoded)), nil
}

// CreateTool starts a new QA file for a parsing job.
type CreateTool struct{}

func (t *CreateTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"create_qa_file",
		mcp.WithDescription("Create a new QA study file for a job. Returns the absolute file path to use with write_to_qa_file."),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Title of the study material"),
		),
		mcp.WithString("icon",
			mcp.Description("Optional emoji icon shown in the deck name"),
		),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Identifier of the parsing job this material belongs to"),
		),
	)
}

func (t *CreateTool) Execute(ctx context.Context, logger *logrus.Logger, cache *sync.Map, args map[string]any) (*mcp.CallToolResult, error) {
	title, ok := args["title"].(string)
	if !ok || title == "" {
		return nil, fmt.Errorf("missing or invalid required parameter: title")
	}
	jobID, ok := args["job_id"].(string)
	if !ok || jobID == "" {
		return nil, fmt.Errorf("missing or invalid required parameter: job_id")
	}
	icon, _ := args["icon"].(string)

	filename := fmt.Sprintf("output_qa_file_%s_%s.json", sanitizeFilename(title), sanitizeFilename(jobID))
	file := File{Title: title, Icon: icon, JobID: jobID, QAPairs: []anki.QAPair{}}

	data, err := json.MarshalIndent(file, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode QA file: %w", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to create QA file: %w", err)
	}

	fullPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve QA file path: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"title":  title,
		"job_id": jobID,
		"path":   fullPath,
	}).Info("Created QA file")

	return resultJSON(map[string]any{
		"message":   fmt.Sprintf("QA file %s created. Job id: %s", filename, jobID),
		"file_path": fullPath,
	})
}

// WriteTool appends question/answer pairs to an existing QA file.
type WriteTool struct{}

func (t *WriteTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"write_to_qa_file",
		mcp.WithDescription(`Append question/answer pairs to a QA file. Use with 6-7 questions at a time. The content must be a JSON array of the form [{"question": "...", "answer": "..."}, ...]`),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute path returned by create_qa_file"),
		),
		mcp.WithArray("content",
			mcp.Required(),
			mcp.Description("Question/answer pairs to append"),
		),
	)
}

func (t *WriteTool) Execute(ctx context.Context, logger *logrus.Logger, cache *sync.Map, args map[string]any) (*mcp.CallToolResult, error) {
	path, ok := args["file_path"].(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("missing or invalid required parameter: file_path")
	}
	rawContent, ok := args["content"].([]any)
	if !ok {
		return nil, fmt.Errorf("missing or invalid required parameter: content")
	}

	pairs, err := parsePairs(rawContent)
	if err != nil {
		return nil, err
	}

	fileLock := lockFor(path)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire write lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("could not acquire write lock on QA file")
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			logger.WithError(err).Warn("Failed to release write lock")
		}
	}()

	// Missing or corrupt files are tolerated: writing starts over with an
	// empty pair list rather than losing the new content.
	file := readFileOrEmpty(logger, path)
	file.QAPairs = append(file.QAPairs, pairs...)

	data, err := json.MarshalIndent(file, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode QA file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write QA file: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"path":  path,
		"added": len(pairs),
		"total": len(file.QAPairs),
	}).Debug("Appended to QA file")

	return mcp.NewToolResultText("Content written to QA file."), nil
}

// FinishTool closes out a QA file and generates the Anki deck from it.
type FinishTool struct{}

func (t *FinishTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"finish_qa_file",
		mcp.WithDescription("Finish a QA file and generate an Anki deck. Always has to be called after all content has been written. Produces an .apkg file from the collected qa_pairs."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute path of the QA file to finish"),
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
			return resultJSON(map[string]any{"error": "Input JSON file not found.", "file_path": path, "status": "error"})
		}
		return nil, fmt.Errorf("failed to read QA file: %w", err)
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return resultJSON(map[string]any{"error": "Invalid JSON format in input file.", "file_path": path, "status": "error"})
	}

	if file.JobID == "" {
		return resultJSON(map[string]any{"error": "job_id is missing in the JSON file.", "file_path": path, "status": "error"})
	}
	if len(file.QAPairs) == 0 {
		return resultJSON(map[string]any{
			"message":   "No QA pairs found. Anki deck generation skipped.",
			"job_id":    file.JobID,
			"file_path": path,
			"status":    "success_no_cards",
		})
	}

	deckTitle := strings.TrimSpace(strings.TrimSpace(file.Icon) + " " + file.Title)
	if deckTitle == "" {
		deckTitle = file.JobID
	}

	encoder := &anki.PackageEncoder{}
	pkg, err := encoder.Encode(deckTitle, file.QAPairs, anki.DeckIDFromString(file.JobID))
	if err != nil {
		logger.WithError(err).WithField("job_id", file.JobID).Error("Deck generation failed")
		return resultJSON(map[string]any{
			"error":  fmt.Sprintf("Failed to write Anki package: %v", err),
			"job_id": file.JobID,
			"status": "error",
		})
	}

	outputDir := filepath.Join(filepath.Dir(path), DeckOutputDirName)
	if err := os.MkdirAll(outputDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create deck output directory: %w", err)
	}

	apkgPath := filepath.Join(outputDir, file.JobID+".apkg")
	if err := os.WriteFile(apkgPath, pkg, 0600); err != nil {
		return nil, fmt.Errorf("failed to write Anki package: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"job_id": file.JobID,
		"cards":  len(file.QAPairs),
		"path":   apkgPath,
	}).Info("Generated Anki deck from QA file")

	return resultJSON(map[string]any{
		"message":        fmt.Sprintf("Anki deck '%s' created successfully.", deckTitle),
		"apkg_file_path": apkgPath,
		"job_id":         file.JobID,
		"notes_added":    len(file.QAPairs),
		"status":         "success",
	})
}

// ContentTool returns a whole file's content as one string, converting HTML
// files to Markdown on the way out.
type ContentTool struct{}

func (t *ContentTool) Definition() mcp.Tool {
	return mcp.NewTool(
		"get_file_content",
		mcp.WithDescription("Get all the file content as one string. HTML files are converted to markdown."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute path of the file to read"),
		),
	)
}

func (t *ContentTool) Execute(ctx context.Context, logger *logrus.Logger, cache *sync.Map, args map[string]any) (*mcp.CallToolResult, error) {
	path, ok := args["file_path"].(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("missing or invalid required parameter: file_path")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	content := string(data)
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".html" || ext == ".htm" {
		markdown, err := htmltomarkdown.ConvertString(content)
		if err != nil {
			return nil, fmt.Errorf("failed to convert HTML to markdown: %w", err)
		}
		content = markdown
	}

	return mcp.NewToolResultText(content), nil
}

// parsePairs converts the raw tool argument into QA pairs, rejecting
// entries without both fields.
func parsePairs(raw []any) ([]anki.QAPair, error) {
	pairs := make([]anki.QAPair, 0, len(raw))
	for i, entry := range raw {
		item, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("content entry %d is not an object", i)
		}
		question, _ := item["question"].(string)
		answer, _ := item["answer"].(string)
		if question == "" || answer == "" {
			return nil, fmt.Errorf("content entry %d must have question and answer", i)
		}
		pairs = append(pairs, anki.QAPair{Question: question, Answer: answer})
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("content must contain at least one question/answer pair")
	}
	return pairs, nil
}

// readFileOrEmpty loads a QA file, falling back to an empty structure when
// the file is missing or unreadable.
func readFileOrEmpty(logger *logrus.Logger, path string) File {
	empty := File{QAPairs: []anki.QAPair{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithError(err).WithField("path", path).Warn("Failed to read QA file, starting fresh")
		}
		return empty
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		logger.WithField("path", path).Warn("QA file contained invalid JSON, it will be overwritten")
		return empty
	}
	if file.QAPairs == nil {
		file.QAPairs = []anki.QAPair{}
	}
	return file
}

// sanitizeFilename strips path separators and whitespace from user-supplied
// name components.
func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_", "..", "_")
	return replacer.Replace(s)
}
