// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders chat conversations to portable document formats.
//
// Exporters work on a detached conversation snapshot so an in-flight
// streaming turn cannot mutate the document mid-render. Obtain one from
// Session.SnapshotConversation.
//
// # Key Types
//
//   - Exporter: one output format (render, extension, MIME type)
//   - Options: output directory and content toggles
//
// # Supported Formats
//
//   - Markdown: human-readable, with YAML frontmatter and reply statistics
//   - JSON: machine-readable, faithful to the conversation content
//
// # Usage
//
// Export a session's conversation to Markdown:
//
//	snap := session.SnapshotConversation()
//	path, err := export.ExportMarkdown(snap, &export.Options{
//	    OutputDir:       "~/exports",
//	    IncludeMetadata: true,
//	})
package export
