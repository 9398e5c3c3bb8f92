// internal/reporting/reporter_test.go
package reporting_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/domscope/internal/mirror"
	"github.com/xkilldash9x/domscope/internal/reporting"
)

// bufferCloser records whether Close was called.
type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func testSnapshot() *mirror.Snapshot {
	text := &mirror.NodeSnapshot{ID: 6, Type: mirror.TextNode, Name: "#text", Value: "hi"}
	p := &mirror.NodeSnapshot{
		ID: 5, Type: mirror.ElementNode, Name: "P", LocalName: "p",
		Attributes: []mirror.AttributeSnapshot{{Name: "id", Value: "x"}},
		ChildNodeCount: 1, Children: []*mirror.NodeSnapshot{text},
	}
	comment := &mirror.NodeSnapshot{ID: 7, Type: mirror.CommentNode, Name: "#comment", Value: " c "}
	body := &mirror.NodeSnapshot{
		ID: 4, Type: mirror.ElementNode, Name: "BODY", LocalName: "body",
		Attributes:     []mirror.AttributeSnapshot{{Name: "class", Value: "page"}},
		ChildNodeCount: 2, Children: []*mirror.NodeSnapshot{p, comment},
	}
	head := &mirror.NodeSnapshot{ID: 3, Type: mirror.ElementNode, Name: "HEAD", LocalName: "head", ChildNodeCount: 1}
	html := &mirror.NodeSnapshot{
		ID: 2, Type: mirror.ElementNode, Name: "HTML", LocalName: "html",
		ChildNodeCount: 2, Children: []*mirror.NodeSnapshot{head, body},
	}
	doctype := &mirror.NodeSnapshot{ID: 9, Type: mirror.DocumentTypeNode, Name: "html"}

	return &mirror.Snapshot{
		ID:         uuid.MustParse("2f1b7a3e-5c1d-4c59-9a43-3c4b9f1d2e10"),
		Session:    uuid.MustParse("8d5e0c7a-1b2f-4a6e-b1c3-7f9e2d4a6b80"),
		URL:        "https://example.com/",
		CapturedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Root: &mirror.NodeSnapshot{
			ID: 1, Type: mirror.DocumentNode, Name: "#document",
			ChildNodeCount: 2, Children: []*mirror.NodeSnapshot{doctype, html},
		},
	}
}

func TestNew(t *testing.T) {
	t.Run("should write to stdout without closing it", func(t *testing.T) {
		for _, format := range reporting.Formats {
			for _, path := range []string{"", "stdout"} {
				r, err := reporting.New(format, path)
				require.NoError(t, err)
				assert.NotNil(t, r)
				assert.NoError(t, r.Close())
			}
		}
	})

	t.Run("should create the output file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tree.txt")
		r, err := reporting.New("text", path)
		require.NoError(t, err)
		require.NoError(t, r.Write(testSnapshot()))
		require.NoError(t, r.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `<body class="page">`)
	})

	t.Run("should reject unknown formats and leave an empty file", func(t *testing.T) {
		r, err := reporting.New("sarif", "stdout")
		assert.Nil(t, r)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported output format: sarif")

		path := filepath.Join(t.TempDir(), "out.sarif")
		r, err = reporting.New("sarif", path)
		assert.Nil(t, r)
		require.Error(t, err)
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, int64(0), info.Size())
	})

	t.Run("should fail when the output cannot be created", func(t *testing.T) {
		r, err := reporting.New("json", t.TempDir())
		assert.Nil(t, r)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create output file")
	})
}

func TestTextReporter(t *testing.T) {
	out := &bufferCloser{}
	r := reporting.NewTextReporter(out)
	require.NoError(t, r.Write(testSnapshot()))
	require.NoError(t, r.Close())
	assert.True(t, out.closed)

	want := strings.Join([]string{
		"# snapshot 2f1b7a3e-5c1d-4c59-9a43-3c4b9f1d2e10 session 8d5e0c7a-1b2f-4a6e-b1c3-7f9e2d4a6b80 captured 2026-01-02T03:04:05Z",
		"# url https://example.com/",
		"#document",
		"  <!DOCTYPE html>",
		"  <html>",
		"    <head>",
		"      … 1 child not loaded",
		`    <body class="page">`,
		`      <p id="x">`,
		`        "hi"`,
		"      <!-- c -->",
		"",
	}, "\n")
	assert.Equal(t, want, out.String())
}

func TestFormatNode(t *testing.T) {
	tests := []struct {
		name string
		node *mirror.NodeSnapshot
		want string
	}{
		{"element without local name", &mirror.NodeSnapshot{Type: mirror.ElementNode, Name: "DIV"}, "<div>"},
		{"attribute quoting", &mirror.NodeSnapshot{Type: mirror.ElementNode, Name: "A", Attributes: []mirror.AttributeSnapshot{{Name: "title", Value: `say "hi"`}}}, `<a title="say \"hi\"">`},
		{"text with newline", &mirror.NodeSnapshot{Type: mirror.TextNode, Value: "a\nb"}, `"a\nb"`},
		{"processing instruction", &mirror.NodeSnapshot{Type: mirror.ProcessingInstructionNode, Name: "xml-stylesheet", Value: `href="a.css"`}, `<?xml-stylesheet href="a.css"?>`},
		{"fragment", &mirror.NodeSnapshot{Type: mirror.DocumentFragmentNode, Name: "#document-fragment"}, "#document-fragment"},
	}
	for _, tt := range tests {
		t.Run("should format "+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reporting.FormatNode(tt.node))
		})
	}
}

func TestJSONReporter(t *testing.T) {
	out := &bufferCloser{}
	r := reporting.NewJSONReporter(out)
	require.NoError(t, r.Write(testSnapshot()))
	require.NoError(t, r.Close())
	assert.True(t, out.closed)

	var got mirror.Snapshot
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, testSnapshot().ID, got.ID)
	assert.True(t, testSnapshot().CapturedAt.Equal(got.CapturedAt))
	assert.Equal(t, testSnapshot().Root, got.Root)
	assert.Contains(t, out.String(), "\n  \"id\"", "output is indented")
}

func TestXMLReporter(t *testing.T) {
	out := &bufferCloser{}
	r := reporting.NewXMLReporter(out)
	require.NoError(t, r.Write(testSnapshot()))
	require.NoError(t, r.Write(testSnapshot()))
	require.NoError(t, r.Close())
	assert.True(t, out.closed)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(out.Bytes()))

	snapshots := doc.FindElements("/snapshots/snapshot")
	require.Len(t, snapshots, 2)
	assert.Equal(t, "https://example.com/", snapshots[0].SelectAttrValue("url", ""))

	body := snapshots[0].FindElement(".//node[@id='4']")
	require.NotNil(t, body)
	assert.Equal(t, "element", body.SelectAttrValue("type", ""))
	assert.Equal(t, "BODY", body.SelectAttrValue("name", ""))
	attr := body.SelectElement("attribute")
	require.NotNil(t, attr)
	assert.Equal(t, "class", attr.SelectAttrValue("name", ""))
	assert.Equal(t, "page", attr.SelectAttrValue("value", ""))

	head := snapshots[0].FindElement(".//node[@id='3']")
	require.NotNil(t, head)
	assert.Equal(t, "1", head.SelectAttrValue("unloaded-children", ""))

	text := snapshots[0].FindElement(".//node[@id='6']/value")
	require.NotNil(t, text)
	assert.Equal(t, "hi", text.Text())
}
