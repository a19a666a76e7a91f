// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/ottodev/internal/util"
)

// Export formats.
const (
	FormatMarkdown = "md"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
)

// ErrUnknownFormat is returned by Export for unsupported formats.
var ErrUnknownFormat = errors.New("unknown export format")

// Export renders the conversation in the given format (md, json or yaml).
func (c *Conversation) Export(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case FormatMarkdown, "markdown":
		return []byte(c.ExportMarkdown()), nil
	case FormatJSON:
		return c.ExportJSON()
	case FormatYAML, "yml":
		return c.ExportYAML()
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "%q", format)
	}
}

// ExportMarkdown renders the conversation as Markdown with one section per
// message.
func (c *Conversation) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# " + c.Summary + "\n\n")
	sb.WriteString("- ID: `" + c.ID + "`\n")
	if c.Model != "" {
		sb.WriteString("- Model: " + c.Model + "\n")
	}
	sb.WriteString("- Created: " + c.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range c.Messages {
		fmt.Fprintf(&sb, "**%s** (%s):\n\n", msg.Role.DisplayName(), msg.Clock())
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}

	return sb.String()
}

// ExportJSON renders the conversation as indented JSON.
func (c *Conversation) ExportJSON() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode conversation")
	}
	return data, nil
}

// ExportYAML renders the conversation as YAML.
func (c *Conversation) ExportYAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode conversation")
	}
	return data, nil
}

// FormatList formats conversation metadata as a table for the terminal.
func FormatList(metas []ConversationMeta) string {
	if len(metas) == 0 {
		return "No conversations found.\n"
	}

	var sb strings.Builder
	header := util.PadWidth("ID", 10) + "  " + util.PadWidth("Updated", 16) + "  " + util.PadWidth("Msgs", 4) + "  Summary"
	sb.WriteString(header + "\n")
	sb.WriteString(strings.Repeat("-", util.StringWidth(header)+20) + "\n")

	for _, m := range metas {
		id := m.ID
		if len(id) > 8 {
			id = id[:8]
		}
		sb.WriteString(util.PadWidth(id, 10) + "  " +
			util.PadWidth(m.UpdatedAt.Local().Format("2006-01-02 15:04"), 16) + "  " +
			util.PadWidth(fmt.Sprint(m.MessageCount), 4) + "  " +
			util.TruncateWidth(m.Summary, 50) + "\n")
	}
	return sb.String()
}
