// Package export converts assembled chapter text into distribution
// formats. DOCX output is a fixed three-part OOXML package: blank-line
// separated paragraphs become justified Word paragraphs, mirroring how
// readers receive finished chapters.
package export

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"os"
	"regexp"
	"strings"
)

const contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

const relsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

const documentHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>`

const documentFooter = `<w:sectPr/>
</w:body>
</w:document>`

// Half-point font size for runs; 24 is 12pt.
const runFontSize = 24

var multiBlank = regexp.MustCompile(`\n{3,}`)

// Paragraphs splits chapter text on blank lines, collapsing runs of blank
// lines and dropping empty paragraphs.
func Paragraphs(text string) []string {
	normalized := multiBlank.ReplaceAllString(strings.TrimSpace(text), "\n\n")

	var out []string
	for _, para := range strings.Split(normalized, "\n\n") {
		if para = strings.TrimSpace(para); para != "" {
			out = append(out, para)
		}
	}
	return out
}

// WriteDocx writes text as a minimal Word document at path. The file is
// created fresh; an existing file is truncated.
func WriteDocx(path, text string) error {
	paragraphs := Paragraphs(text)
	if len(paragraphs) == 0 {
		return fmt.Errorf("nothing to export: text has no paragraphs")
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	zw := zip.NewWriter(f)
	parts := []struct {
		name string
		body string
	}{
		{"[Content_Types].xml", contentTypesXML},
		{"_rels/.rels", relsXML},
		{"word/document.xml", documentXML(paragraphs)},
	}
	for _, part := range parts {
		pw, err := zw.Create(part.name)
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to add %s: %w", part.name, err)
		}
		if _, err := pw.Write([]byte(part.body)); err != nil {
			f.Close()
			return fmt.Errorf("failed to write %s: %w", part.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finish document: %w", err)
	}
	return f.Close()
}

// ConvertFile reads an assembled chapter .txt and writes the .docx
// rendition to outPath.
func ConvertFile(inPath, outPath string) error {
	raw, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("failed to read chapter text: %w", err)
	}
	return WriteDocx(outPath, string(raw))
}

// documentXML renders the main document part. Paragraphs are justified
// with a 12pt serif run, matching the shape chapters were distributed in.
func documentXML(paragraphs []string) string {
	var b strings.Builder
	b.WriteString(documentHeader)

	for _, para := range paragraphs {
		b.WriteString(`<w:p><w:pPr><w:jc w:val="both"/></w:pPr>`)
		// A paragraph may still contain single line breaks; Word renders
		// those as explicit breaks within the paragraph.
		for i, line := range strings.Split(para, "\n") {
			if i > 0 {
				b.WriteString(`<w:r><w:br/></w:r>`)
			}
			b.WriteString(`<w:r><w:rPr><w:rFonts w:ascii="Times New Roman" w:hAnsi="Times New Roman"/>`)
			fmt.Fprintf(&b, `<w:sz w:val="%d"/></w:rPr>`, runFontSize)
			b.WriteString(`<w:t xml:space="preserve">`)
			b.WriteString(escapeXML(line))
			b.WriteString(`</w:t></w:r>`)
		}
		b.WriteString(`</w:p>`)
	}

	b.WriteString(documentFooter)
	return b.String()
}

func escapeXML(s string) string {
	var b strings.Builder
	// EscapeText only fails on a failing writer; strings.Builder never does.
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
