// internal/reporting/xml_reporter.go
package reporting

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domscope/internal/mirror"
	"github.com/xkilldash9x/domscope/internal/observability"
)

// XMLReporter collects snapshots into one <snapshots> document written on
// Close. Nodes become <node> elements rather than elements named after the
// page's tags, so the output is well formed for any page.
type XMLReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	mu     sync.Mutex
	doc    *etree.Document
	root   *etree.Element
}

func NewXMLReporter(writer io.WriteCloser) *XMLReporter {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	return &XMLReporter{
		writer: writer,
		logger: observability.GetLogger().Named("xml_reporter"),
		doc:    doc,
		root:   doc.CreateElement("snapshots"),
	}
}

func (r *XMLReporter) Write(s *mirror.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	el := r.root.CreateElement("snapshot")
	el.CreateAttr("id", s.ID.String())
	el.CreateAttr("session", s.Session.String())
	el.CreateAttr("captured-at", s.CapturedAt.Format(time.RFC3339Nano))
	if s.URL != "" {
		el.CreateAttr("url", s.URL)
	}
	if s.Root != nil {
		appendNode(el, s.Root)
	}
	return nil
}

func appendNode(parent *etree.Element, n *mirror.NodeSnapshot) {
	el := parent.CreateElement("node")
	el.CreateAttr("id", strconv.FormatInt(int64(n.ID), 10))
	el.CreateAttr("type", n.Type.String())
	el.CreateAttr("name", n.Name)
	if !n.Materialized() && n.ChildNodeCount > 0 {
		el.CreateAttr("unloaded-children", strconv.Itoa(n.ChildNodeCount))
	}
	for _, a := range n.Attributes {
		attr := el.CreateElement("attribute")
		attr.CreateAttr("name", a.Name)
		attr.CreateAttr("value", a.Value)
	}
	if n.Value != "" {
		el.CreateElement("value").SetText(n.Value)
	}
	for _, c := range n.Children {
		appendNode(el, c)
	}
}

// Close writes the collected document and closes the writer.
func (r *XMLReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug("Finalizing XML report", zap.Int("snapshots", len(r.root.ChildElements())))

	r.doc.Indent(2)
	_, writeErr := r.doc.WriteTo(r.writer)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if writeErr != nil {
		r.logger.Error("Failed to write XML report", zap.Error(writeErr))
		return fmt.Errorf("failed to write XML output: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}
