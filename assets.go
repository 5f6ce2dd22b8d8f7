package secretary

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/gabriel-vasile/mimetype"
)

// MaxAssetSize bounds what a single asset may read.
const MaxAssetSize = 10 * 1024 * 1024

// ErrUnsupportedAsset is returned for content that cannot be turned into text.
var ErrUnsupportedAsset = errors.New("unsupported asset content")

// Asset is any source that can be turned into input text.
type Asset interface {
	Text(ctx context.Context, log *slog.Logger) (string, error)
}

// FileMetadata describes a file asset after it was read.
type FileMetadata struct {
	FilePath    string    `json:"filePath"`
	FileSize    int64     `json:"fileSize"`
	MIMEType    string    `json:"mimeType"`
	Checksum    string    `json:"checksum"`
	ProcessedAt time.Time `json:"processedAt"`
	DisplayName string    `json:"displayName"`
}

// ProgressCallback is called during batch file processing.
type ProgressCallback func(processed, total int, currentFile string)

// TextAsset is plain text used as is.
type TextAsset struct {
	Content string
}

func NewTextAsset(content string) *TextAsset { return &TextAsset{Content: content} }

func (t *TextAsset) Text(context.Context, *slog.Logger) (string, error) {
	if strings.TrimSpace(t.Content) == "" {
		return "", ErrEmptyDocument
	}
	return t.Content, nil
}

// HTMLAsset is HTML converted to Markdown before extraction.
type HTMLAsset struct {
	HTML string
}

func NewHTMLAsset(html string) *HTMLAsset { return &HTMLAsset{HTML: html} }

func (h *HTMLAsset) Text(_ context.Context, log *slog.Logger) (string, error) {
	return htmlToText(h.HTML, log)
}

func htmlToText(html string, log *slog.Logger) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", ErrEmptyDocument
	}
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to Markdown: %w", err)
	}
	log.Debug("Converted HTML to Markdown", "html_length", len(html), "markdown_length", len(md))
	if strings.TrimSpace(md) == "" {
		return "", ErrEmptyDocument
	}
	return md, nil
}

// FileAsset reads a local file. Text files are used directly, HTML is
// converted to Markdown; binary formats are rejected.
type FileAsset struct {
	Path            string
	MimeType        string // detected when empty
	DisplayName     string
	IncludeMetadata bool
	Metadata        *FileMetadata // set after Text when IncludeMetadata
}

// NewFileAsset creates a file asset.
func NewFileAsset(path string, options ...func(*FileAsset)) *FileAsset {
	asset := &FileAsset{Path: path}
	for _, opt := range options {
		opt(asset)
	}
	return asset
}

// WithMimeType skips content detection.
func WithMimeType(mimeType string) func(*FileAsset) {
	return func(f *FileAsset) { f.MimeType = mimeType }
}

func WithDisplayName(displayName string) func(*FileAsset) {
	return func(f *FileAsset) { f.DisplayName = displayName }
}

// WithIncludeMetadata appends a file information block to the text.
func WithIncludeMetadata(include bool) func(*FileAsset) {
	return func(f *FileAsset) { f.IncludeMetadata = include }
}

func (f *FileAsset) Text(ctx context.Context, log *slog.Logger) (string, error) {
	if f.Path == "" {
		return "", fmt.Errorf("file path is empty")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	info, err := os.Stat(f.Path)
	if err != nil {
		return "", fmt.Errorf("file %s: %w", f.Path, err)
	}
	if info.Size() > MaxAssetSize {
		return "", fmt.Errorf("file %s exceeds maximum size of %d bytes", f.Path, MaxAssetSize)
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.Path, err)
	}

	mimeType := f.MimeType
	if mimeType == "" {
		mimeType = detectMIME(f.Path, data)
	}
	log.Debug("Reading file asset", "path", f.Path, "mime_type", mimeType, "size", len(data))

	text, err := decodeContent(data, mimeType, log)
	if err != nil {
		return "", fmt.Errorf("file %s: %w", f.Path, err)
	}
	if f.IncludeMetadata {
		f.Metadata = &FileMetadata{
			FilePath:    f.Path,
			FileSize:    info.Size(),
			MIMEType:    mimeType,
			Checksum:    fmt.Sprintf("%x", sha256.Sum256(data)),
			ProcessedAt: time.Now(),
			DisplayName: f.DisplayName,
		}
		text += fmt.Sprintf(`

File Information:
- Original Path: %s
- Size: %d bytes
- MIME Type: %s
- Checksum (SHA256): %s`, f.Path, info.Size(), mimeType, f.Metadata.Checksum)
	}
	return text, nil
}

// detectMIME sniffs content first and falls back to the extension, since
// mimetype reports Markdown and CSV as plain text anyway.
func detectMIME(path string, data []byte) string {
	m := mimetype.Detect(data)
	if m.Is("application/octet-stream") {
		if byExt := mimetype.Lookup(extensionMIME(path)); byExt != nil {
			return byExt.String()
		}
	}
	return m.String()
}

func extensionMIME(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		return "text/plain"
	case ".html", ".htm":
		return "text/html"
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".xml":
		return "text/xml"
	default:
		return "application/octet-stream"
	}
}

func decodeContent(data []byte, mimeType string, log *slog.Logger) (string, error) {
	base, _, _ := strings.Cut(mimeType, ";")
	switch {
	case base == "text/html" || base == "application/xhtml+xml":
		return htmlToText(string(data), log)
	case strings.HasPrefix(base, "text/"),
		base == "application/json",
		base == "application/xml":
		if strings.TrimSpace(string(data)) == "" {
			return "", ErrEmptyDocument
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAsset, mimeType)
	}
}

// BatchFileAsset concatenates several files. Files that fail are logged and
// skipped; at least one must succeed.
type BatchFileAsset struct {
	FilePaths        []string
	ProgressCallback ProgressCallback
	IncludeMetadata  bool
}

func NewBatchFileAsset(filePaths []string, options ...func(*BatchFileAsset)) *BatchFileAsset {
	asset := &BatchFileAsset{FilePaths: filePaths}
	for _, opt := range options {
		opt(asset)
	}
	return asset
}

func WithBatchProgressCallback(callback ProgressCallback) func(*BatchFileAsset) {
	return func(b *BatchFileAsset) { b.ProgressCallback = callback }
}

func WithBatchIncludeMetadata(include bool) func(*BatchFileAsset) {
	return func(b *BatchFileAsset) { b.IncludeMetadata = include }
}

func (b *BatchFileAsset) Text(ctx context.Context, log *slog.Logger) (string, error) {
	if len(b.FilePaths) == 0 {
		return "", fmt.Errorf("no file paths provided")
	}
	var parts []string
	for i, path := range b.FilePaths {
		if b.ProgressCallback != nil {
			b.ProgressCallback(i, len(b.FilePaths), path)
		}
		text, err := (&FileAsset{Path: path, IncludeMetadata: b.IncludeMetadata}).Text(ctx, log)
		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			log.Warn("Failed to process file", "path", path, "error", err)
			continue
		}
		parts = append(parts, text)
	}
	if b.ProgressCallback != nil {
		b.ProgressCallback(len(b.FilePaths), len(b.FilePaths), "")
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no files were successfully processed")
	}
	return strings.Join(parts, "\n\n"), nil
}

// URLAsset fetches a page. HTML responses are converted to Markdown.
type URLAsset struct {
	URL    string
	Client *http.Client // nil → http.DefaultClient
}

func NewURLAsset(url string) *URLAsset { return &URLAsset{URL: url} }

func (u *URLAsset) Text(ctx context.Context, log *slog.Logger) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d %s", resp.StatusCode, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxAssetSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > MaxAssetSize {
		return "", fmt.Errorf("response body exceeds maximum size of %d bytes", MaxAssetSize)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mimetype.Detect(body).String()
	}
	log.Debug("Fetched URL asset", "url", u.URL, "mime_type", mimeType, "size", len(body))
	return decodeContent(body, mimeType, log)
}

// AssetsFrom wraps plain text.
func AssetsFrom(content string) []Asset {
	return []Asset{NewTextAsset(content)}
}

// InputFrom renders assets into one input document, separated by blank lines.
func InputFrom(ctx context.Context, log *slog.Logger, assets ...Asset) (string, error) {
	if log == nil {
		log = slog.Default()
	}
	if len(assets) == 0 {
		return "", ErrEmptyDocument
	}
	parts := make([]string, 0, len(assets))
	for i, a := range assets {
		text, err := a.Text(ctx, log)
		if err != nil {
			return "", fmt.Errorf("asset %d: %w", i, err)
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n"), nil
}
