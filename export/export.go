// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jeranaias/streamchat/internal/util"
	"github.com/jeranaias/streamchat/model"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a conversation into one output format.
type Exporter interface {
	// Export renders the conversation and returns the document bytes.
	Export(conv *model.Conversation) ([]byte, error)

	// FileExtension returns the extension for the format (e.g. ".md").
	FileExtension() string

	// MimeType returns the MIME type of the format.
	MimeType() string
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is the directory exported files are written to.
	// Default: current working directory.
	OutputDir string

	// IncludeMetadata includes the document header and per-reply
	// statistics.
	IncludeMetadata bool

	// IncludeTimestamps includes per-message timestamps.
	IncludeTimestamps bool
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ExportToFile renders a conversation with the given exporter and writes the
// document under opts.OutputDir. Returns the output file path.
//
// The conversation should be a detached snapshot; a live conversation still
// receiving fragments would render mid-mutation.
func ExportToFile(conv *model.Conversation, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(conv)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("conversation_%s_%s%s",
		sanitizeFilename(conv.GetTitle()),
		timestamp,
		exporter.FileExtension(),
	)

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	outputPath := filepath.Join(opts.OutputDir, filename)
	if err := util.AtomicWriteFile(outputPath, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	return outputPath, nil
}

// ExportMarkdown renders the conversation to Markdown and writes the file.
func ExportMarkdown(conv *model.Conversation, opts *Options) (string, error) {
	return ExportToFile(conv, NewMarkdownExporter(opts), opts)
}

// ExportJSON renders the conversation to JSON and writes the file.
func ExportJSON(conv *model.Conversation, opts *Options) (string, error) {
	return ExportToFile(conv, NewJSONExporter(opts), opts)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename removes or replaces characters that are invalid in
// filenames on either Windows or Unix.
func sanitizeFilename(s string) string {
	s = util.TruncateRunesNoEllipsis(s, 50)

	replacer := map[rune]rune{
		'/':  '-',
		'\\': '-',
		':':  '-',
		'*':  '-',
		'?':  '-',
		'"':  '-',
		'<':  '-',
		'>':  '-',
		'|':  '-',
		' ':  '_',
		'\t': '_',
		'\n': '_',
		'\r': '_',
	}

	result := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case replacer[r] != 0:
			result = append(result, replacer[r])
		case r < 32 || r == 127:
			result = append(result, '-')
		default:
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return "conversation"
	}
	return string(result)
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatShortTimestamp formats a timestamp for inline display.
func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
