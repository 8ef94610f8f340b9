// Package parsepdf exposes the PDF to Markdown pipeline as an agent tool.
package parsepdf

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/SaschaKiebler/ankiBot/internal/parsing"
	"github.com/SaschaKiebler/ankiBot/internal/registry"
	"github.com/SaschaKiebler/ankiBot/internal/tools"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
)

var (
	mu     sync.RWMutex
	driver *parsing.Driver
	store  parsing.Store
)

// Configure hands the shared parsing driver and job store to the tool. It
// must run before the server accepts tool calls; until then every call
// reports the pipeline as unavailable.
func Configure(d *parsing.Driver, s parsing.Store) {
	mu.Lock()
	defer mu.Unlock()
	driver = d
	store = s
}

func pipeline() (*parsing.Driver, parsing.Store, error) {
	mu.RLock()
	defer mu.RUnlock()
	if driver == nil || store == nil {
		return nil, nil, fmt.Errorf("PDF parsing is not available: vision extraction is not configured")
	}
	return driver, store, nil
}

func init() {
	registry.Register(&Tool{})
}

// Tool converts PDF files to Markdown through asynchronous jobs.
type Tool struct{}

func (t *Tool) Definition() mcp.Tool {
	return mcp.NewTool(
		"parse_pdf",
		mcp.WithDescription("Convert a PDF file to Markdown. Action 'submit' starts an asynchronous job for a local PDF file and returns a job id; 'status' reports job progress; 'result' returns the extracted Markdown once the job succeeded."),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("One of: submit, status, result"),
			mcp.Enum("submit", "status", "result"),
		),
		mcp.WithString("file_path",
			mcp.Description("Absolute path of the PDF file (submit only)"),
		),
		mcp.WithString("page_prefix",
			mcp.Description("Text placed before each page's content (submit only)"),
		),
		mcp.WithString("page_suffix",
			mcp.Description("Text placed after each page's content (submit only)"),
		),
		mcp.WithString("job_id",
			mcp.Description("Job identifier returned by submit (status and result)"),
		),
	)
}

func (t *Tool) Execute(ctx context.Context, logger *logrus.Logger, cache *sync.Map, args map[string]any) (*mcp.CallToolResult, error) {
	action, ok := args["action"].(string)
	if !ok || action == "" {
		return nil, fmt.Errorf("missing or invalid required parameter: action")
	}

	switch action {
	case "submit":
		return t.submit(ctx, logger, args)
	case "status":
		return t.status(args)
	case "result":
		return t.result(args)
	default:
		return nil, fmt.Errorf("unknown action: %s (expected submit, status or result)", action)
	}
}

func (t *Tool) submit(ctx context.Context, logger *logrus.Logger, args map[string]any) (*mcp.CallToolResult, error) {
	d, _, err := pipeline()
	if err != nil {
		return nil, err
	}

	path, ok := args["file_path"].(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("missing or invalid required parameter: file_path")
	}
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("file_path must be absolute, got: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF file: %w", err)
	}

	prefix, _ := args["page_prefix"].(string)
	suffix, _ := args["page_suffix"].(string)

	job, err := d.Submit(ctx, parsing.Submission{
		Data:        data,
		SourceName:  filepath.Base(path),
		ContentType: "application/pdf",
		PagePrefix:  prefix,
		PageSuffix:  suffix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit parsing job: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"file":   path,
	}).Info("Submitted PDF parsing job")

	return resultJSON(map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (t *Tool) status(args map[string]any) (*mcp.CallToolResult, error) {
	_, s, err := pipeline()
	if err != nil {
		return nil, err
	}

	job, err := loadJob(s, args)
	if err != nil {
		return nil, err
	}

	response := map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	}
	if job.Error != "" {
		response["error"] = job.Error
	}
	return resultJSON(response)
}

func (t *Tool) result(args map[string]any) (*mcp.CallToolResult, error) {
	_, s, err := pipeline()
	if err != nil {
		return nil, err
	}

	job, err := loadJob(s, args)
	if err != nil {
		return nil, err
	}

	if job.Status != parsing.StatusSuccess {
		message := fmt.Sprintf("job %s is not finished yet, status: %s", job.ID, job.Status)
		if job.Error != "" {
			message = fmt.Sprintf("job %s failed: %s", job.ID, job.Error)
		}
		return nil, fmt.Errorf("%s", message)
	}

	return mcp.NewToolResultText(job.Result), nil
}

// ProvideExtendedInfo adds usage examples for agents that ask for them.
func (t *Tool) ProvideExtendedInfo() *tools.ExtendedHelp {
	return &tools.ExtendedHelp{
		Examples: []tools.ToolExample{
			{
				Description: "Start converting a lecture PDF",
				Arguments: map[string]any{
					"action":    "submit",
					"file_path": "/home/user/lectures/week3.pdf",
				},
				ExpectedResult: "JSON with the job_id and its initial status",
			},
			{
				Description: "Fetch the Markdown once the job succeeded",
				Arguments: map[string]any{
					"action": "result",
					"job_id": "c0ffee12-3456-7890-abcd-ef0123456789",
				},
				ExpectedResult: "The extracted Markdown document",
			},
		},
		CommonPatterns: []string{
			"submit, then poll status until SUCCESS or FAILED, then fetch result",
		},
		ParameterDetails: map[string]string{
			"page_prefix": "Wrapped around each page's text; defaults to a '---' separator line",
			"page_suffix": "Wrapped around each page's text; defaults to a '---' separator line",
		},
		WhenToUse:    "When study material exists as a PDF and you need its text content as Markdown.",
		WhenNotToUse: "For files that are already plain text, Markdown or HTML, use get_file_content instead.",
	}
}

func loadJob(s parsing.Store, args map[string]any) (parsing.Job, error) {
	jobID, ok := args["job_id"].(string)
	if !ok || jobID == "" {
		return parsing.Job{}, fmt.Errorf("missing or invalid required parameter: job_id")
	}
	job, err := s.Get(jobID)
	if err != nil {
		return parsing.Job{}, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	return job, nil
}

func resultJSON(data any) (*mcp.CallToolResult, error) {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return mcp.NewToolResultText(string(encoded)), nil
}
