// internal/reporting/text_reporter.go
package reporting

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/domscope/internal/mirror"
	"github.com/xkilldash9x/domscope/internal/observability"
)

const textIndent = "  "

// TextReporter prints each snapshot as an indented tree, one node per line,
// in the style of an element inspector.
type TextReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	mu     sync.Mutex
}

func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{
		writer: writer,
		logger: observability.GetLogger().Named("text_reporter"),
	}
}

func (r *TextReporter) Write(s *mirror.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := bufio.NewWriter(r.writer)
	fmt.Fprintf(w, "# snapshot %s session %s captured %s\n", s.ID, s.Session, s.CapturedAt.Format(time.RFC3339))
	if s.URL != "" {
		fmt.Fprintf(w, "# url %s\n", s.URL)
	}
	if s.Root != nil {
		s.Root.Walk(func(n, _ *mirror.NodeSnapshot, depth, _ int) {
			indent := strings.Repeat(textIndent, depth)
			fmt.Fprintf(w, "%s%s\n", indent, FormatNode(n))
			if !n.Materialized() && n.ChildNodeCount > 0 {
				fmt.Fprintf(w, "%s%s… %d %s not loaded\n", indent, textIndent, n.ChildNodeCount, plural(n.ChildNodeCount, "child", "children"))
			}
		})
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write text report: %w", err)
	}
	return nil
}

func (r *TextReporter) Close() error {
	if err := r.writer.Close(); err != nil {
		r.logger.Error("Failed to close output writer", zap.Error(err))
		return fmt.Errorf("failed to close output writer: %w", err)
	}
	return nil
}

// FormatNode renders a single node the way the text report shows it.
func FormatNode(n *mirror.NodeSnapshot) string {
	switch n.Type {
	case mirror.ElementNode:
		var b strings.Builder
		b.WriteByte('<')
		b.WriteString(elementName(n))
		for _, a := range n.Attributes {
			fmt.Fprintf(&b, " %s=%q", a.Name, a.Value)
		}
		b.WriteByte('>')
		return b.String()
	case mirror.TextNode, mirror.CDATASectionNode:
		return fmt.Sprintf("%q", n.Value)
	case mirror.CommentNode:
		return "<!--" + n.Value + "-->"
	case mirror.DocumentTypeNode:
		return "<!DOCTYPE " + n.Name + ">"
	case mirror.ProcessingInstructionNode:
		return "<?" + n.Name + " " + n.Value + "?>"
	}
	return n.Name
}

func elementName(n *mirror.NodeSnapshot) string {
	if n.LocalName != "" {
		return n.LocalName
	}
	return strings.ToLower(n.Name)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
