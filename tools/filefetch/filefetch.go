package filefetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/tveshas/quizagent/internal/capability"
)

// maxInlineSize is the largest download that still gets base64-inlined into
// a tool result.
const maxInlineSize = 10 << 20

// DownloadTool fetches remote files for the reasoning model.
type DownloadTool struct {
	client *http.Client
}

// NewDownload builds the download_file tool.
func NewDownload(timeout time.Duration) *DownloadTool {
	return &DownloadTool{client: &http.Client{Timeout: timeout}}
}

func (t *DownloadTool) Spec() capability.Spec {
	return capability.Spec{
		Name:        "download_file",
		Description: "Download a file from a URL. Returns file info and base64 content if small enough.",
		Fields: []capability.Field{
			{Name: "url", Type: capability.TypeString, Description: "The URL of the file to download", Required: true},
		},
	}
}

func (t *DownloadTool) Invoke(ctx context.Context, args map[string]interface{}) capability.Result {
	url, _ := args["url"].(string)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return capability.Failure("build request for %s: %v", url, err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return capability.Failure("download %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return capability.Failure("download %s: status %d", url, resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxInlineSize+1))
	if err != nil {
		return capability.Failure("read %s: %v", url, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	out := map[string]interface{}{
		"url":          url,
		"content_type": contentType,
		"size":         len(content),
	}
	if len(content) <= maxInlineSize {
		out["base64"] = base64.StdEncoding.EncodeToString(content)
	} else {
		out["note"] = "File too large for base64 encoding"
	}
	return capability.OK(out)
}

// PDFTool extracts text from base64-encoded PDF files.
type PDFTool struct{}

func (PDFTool) Spec() capability.Spec {
	return capability.Spec{
		Name:        "process_pdf",
		Description: "Process a PDF file from base64 content. Extracts text and metadata.",
		Fields: []capability.Field{
			{Name: "base64_content", Type: capability.TypeString, Description: "Base64 encoded PDF content", Required: true},
		},
	}
}

func (PDFTool) Invoke(ctx context.Context, args map[string]interface{}) capability.Result {
	raw, err := decodeContent(args)
	if err != nil {
		return capability.Failure("%v", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return capability.Failure("open pdf: %v", err)
	}

	var parts []string
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		parts = append(parts, text)
	}

	return capability.OK(map[string]interface{}{
		"text":      strings.Join(parts, "\n"),
		"num_pages": numPages,
	})
}

// CSVTool parses base64-encoded CSV files into rows the model can analyze.
type CSVTool struct{}

func (CSVTool) Spec() capability.Spec {
	return capability.Spec{
		Name:        "process_csv",
		Description: "Process a CSV file from base64 content. Returns column info and the parsed rows.",
		Fields: []capability.Field{
			{Name: "base64_content", Type: capability.TypeString, Description: "Base64 encoded CSV content", Required: true},
		},
	}
}

func (CSVTool) Invoke(ctx context.Context, args map[string]interface{}) capability.Result {
	raw, err := decodeContent(args)
	if err != nil {
		return capability.Failure("%v", err)
	}

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return capability.Failure("parse csv: %v", err)
	}
	if len(records) == 0 {
		return capability.Failure("csv file is empty")
	}

	header := records[0]
	rows := make([]interface{}, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]interface{}, len(header))
		for i, col := range header {
			if i >= len(record) {
				continue
			}
			row[col] = coerce(record[i])
		}
		rows = append(rows, row)
	}

	head := rows
	if len(head) > 10 {
		head = head[:10]
	}
	return capability.OK(map[string]interface{}{
		"shape":   []interface{}{len(rows), len(header)},
		"columns": header,
		"head":    head,
		"rows":    rows,
	})
}

// coerce turns CSV cell text into a number or bool when it parses as one.
func coerce(s string) interface{} {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// ImageTool reports metadata for base64-encoded images.
type ImageTool struct{}

func (ImageTool) Spec() capability.Spec {
	return capability.Spec{
		Name:        "process_image",
		Description: "Process an image from base64 content. Returns image metadata.",
		Fields: []capability.Field{
			{Name: "base64_content", Type: capability.TypeString, Description: "Base64 encoded image content (with or without data URI prefix)", Required: true},
		},
	}
}

func (ImageTool) Invoke(ctx context.Context, args map[string]interface{}) capability.Result {
	raw, err := decodeContent(args)
	if err != nil {
		return capability.Failure("%v", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return capability.Failure("decode image: %v", err)
	}
	return capability.OK(map[string]interface{}{
		"format": format,
		"width":  cfg.Width,
		"height": cfg.Height,
		"size":   []interface{}{cfg.Width, cfg.Height},
	})
}

// decodeContent reads the base64_content argument, tolerating a data URI
// prefix.
func decodeContent(args map[string]interface{}) ([]byte, error) {
	content, _ := args["base64_content"].(string)
	if idx := strings.Index(content, ","); idx >= 0 && strings.HasPrefix(content, "data:") {
		content = content[idx+1:]
	}
	content = strings.TrimSpace(content)
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("decode base64 content: %v", err)
	}
	return raw, nil
}
