package cleaner

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/unidoc/unipdf/v3/contentstream"
	"github.com/unidoc/unipdf/v3/core"
	"github.com/unidoc/unipdf/v3/model"
)

// testImage is one image placement for the PDF fixture builder.
type testImage struct {
	name string
	cm   [6]float64 // a b c d e f
}

// testLink is one URI link annotation for the fixture builder.
type testLink struct {
	url  string
	rect [4]float64
}

// assemblePDF numbers the given object bodies from 1 and appends the xref
// table and trailer with computed byte offsets. Object 1 must be the
// catalog. The fixtures are assembled by hand so the loader, locator and
// remover are tested against documents no unipdf writer produced.
func assemblePDF(objects []string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func streamObject(dictExtra, data string) string {
	return fmt.Sprintf("<< %s/Length %d >>\nstream\n%s\nendstream", dictExtra, len(data), data)
}

func imageObject() string {
	return streamObject("/Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceRGB /BitsPerComponent 8 ", "\x80\x80\x80")
}

func linkObject(url string, rect [4]float64) string {
	return fmt.Sprintf("<< /Type /Annot /Subtype /Link /Rect [%g %g %g %g] /Border [0 0 0] /A << /Type /Action /S /URI /URI (%s) >> >>",
		rect[0], rect[1], rect[2], rect[3], url)
}

// buildTestPDF assembles a single US-Letter page with the given image
// placements and link annotations. Placements sharing a name share one
// XObject.
func buildTestPDF(t *testing.T, images []testImage, links []testLink) []byte {
	t.Helper()

	// Objects: 1 catalog, 2 page tree, 3 page, 4 contents, then images in
	// order of first use, then annotations.
	var content strings.Builder
	var xobjEntries []string
	imgObj := map[string]int{}
	next := 5
	for _, im := range images {
		if _, ok := imgObj[im.name]; !ok {
			imgObj[im.name] = next
			xobjEntries = append(xobjEntries, fmt.Sprintf("/%s %d 0 R", im.name, next))
			next++
		}
		fmt.Fprintf(&content, "q\n%g %g %g %g %g %g cm\n/%s Do\nQ\n",
			im.cm[0], im.cm[1], im.cm[2], im.cm[3], im.cm[4], im.cm[5], im.name)
	}
	var annotRefs []string
	for range links {
		annotRefs = append(annotRefs, fmt.Sprintf("%d 0 R", next))
		next++
	}

	annots := ""
	if len(annotRefs) > 0 {
		annots = fmt.Sprintf("/Annots [%s] ", strings.Join(annotRefs, " "))
	}
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /XObject << %s >> >> %s>>",
			strings.Join(xobjEntries, " "), annots),
		streamObject("", content.String()),
	}
	for _, im := range images {
		if imgObj[im.name] == len(objects)+1 {
			objects = append(objects, imageObject())
		}
	}
	for _, ln := range links {
		objects = append(objects, linkObject(ln.url, ln.rect))
	}
	return assemblePDF(objects)
}

// buildSharedResourcePDF assembles two pages whose page dictionaries
// reference the same indirect Resources object. Page 1 draws /Im1 in the
// corner under a branding link; page 2 draws the same /Im1 in its body.
func buildSharedResourcePDF(t *testing.T) []byte {
	t.Helper()
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 5 0 R /Resources 7 0 R /Annots [8 0 R] >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 6 0 R /Resources 7 0 R >>",
		streamObject("", "q\n150 0 0 80 450 700 cm\n/Im1 Do\nQ\n"),
		streamObject("", "q\n90 0 0 90 10 10 cm\n/Im1 Do\nQ\n"),
		"<< /XObject << /Im1 9 0 R >> >>",
		linkObject("https://gamma.app/abc", [4]float64{450, 700, 600, 780}),
		imageObject(),
	}
	return assemblePDF(objects)
}

// readPages re-opens a document for inspection.
func readPages(t *testing.T, data []byte, want int) []*model.PdfPage {
	t.Helper()
	reader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reopen pdf: %v", err)
	}
	if len(reader.PageList) != want {
		t.Fatalf("expected %d pages, got %d", want, len(reader.PageList))
	}
	return reader.PageList
}

// drawnNames returns the XObject names drawn by the page content stream.
func drawnNames(t *testing.T, page *model.PdfPage) []string {
	t.Helper()
	contents, err := page.GetAllContentStreams()
	if err != nil {
		t.Fatalf("content streams: %v", err)
	}
	ops, err := contentstream.NewContentStreamParser(contents).Parse()
	if err != nil {
		t.Fatalf("parse content stream: %v", err)
	}
	var names []string
	for _, op := range *ops {
		if op.Operand != "Do" || len(op.Params) != 1 {
			continue
		}
		if name, ok := core.GetName(op.Params[0]); ok {
			names = append(names, name.String())
		}
	}
	return names
}

// annotationURIs returns the URI of every link annotation on the page.
func annotationURIs(t *testing.T, page *model.PdfPage) []string {
	t.Helper()
	var uris []string
	annots, err := page.GetAnnotations()
	if err != nil {
		t.Fatalf("GetAnnotations: %v", err)
	}
	for _, annot := range annots {
		link, ok := annot.GetContext().(*model.PdfAnnotationLink)
		if !ok {
			continue
		}
		if uri, ok := linkURI(link); ok {
			uris = append(uris, uri)
		}
	}
	return uris
}

func TestPDFClean_RemovesBrandedCornerImage(t *testing.T) {
	// Corner image at (450,700)-(600,780) overlaid by a gamma.app link,
	// plus a body image at (10,10)-(100,100) with its own gamma.app link.
	// Only the corner pair satisfies the predicate.
	input := buildTestPDF(t,
		[]testImage{
			{name: "Im1", cm: [6]float64{150, 0, 0, 80, 450, 700}},
			{name: "Im2", cm: [6]float64{90, 0, 0, 90, 10, 10}},
		},
		[]testLink{
			{url: "https://gamma.app/docs/abc", rect: [4]float64{450, 700, 600, 780}},
			{url: "https://gamma.app/docs/body", rect: [4]float64{10, 10, 100, 100}},
		},
	)

	res, err := NewPDFCleaner(DefaultRule()).Clean(input)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if !res.Found {
		t.Fatal("expected watermark to be found")
	}
	if res.ImagesRemoved != 1 || res.LinksRemoved != 1 {
		t.Errorf("expected 1 image + 1 link removed, got %d + %d", res.ImagesRemoved, res.LinksRemoved)
	}
	if res.Removed != 2 || res.ContainersCleaned != 1 {
		t.Errorf("unexpected totals: %+v", res)
	}

	page := readPages(t, res.Output, 1)[0]
	names := drawnNames(t, page)
	if len(names) != 1 || names[0] != "Im2" {
		t.Errorf("expected only Im2 to survive, got %v", names)
	}
	uris := annotationURIs(t, page)
	if len(uris) != 1 || uris[0] != "https://gamma.app/docs/body" {
		t.Errorf("expected only the body link to survive, got %v", uris)
	}

	// The orphaned XObject entry must be gone, the survivor kept.
	if obj, _ := page.Resources.GetXObjectByName("Im1"); obj != nil {
		t.Error("Im1 resource should have been removed")
	}
	if obj, _ := page.Resources.GetXObjectByName("Im2"); obj == nil {
		t.Error("Im2 resource should still exist")
	}
}

func TestPDFClean_CornerImageWithoutBrandLinkRetained(t *testing.T) {
	input := buildTestPDF(t,
		[]testImage{{name: "Im1", cm: [6]float64{150, 0, 0, 80, 450, 700}}},
		[]testLink{{url: "https://example.com/", rect: [4]float64{450, 700, 600, 780}}},
	)

	res, err := NewPDFCleaner(DefaultRule()).Clean(input)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if res.Found || res.Removed != 0 {
		t.Fatalf("expected no match, got %+v", res)
	}
	if !bytes.Equal(res.Output, input) {
		t.Error("no-match output must be the original bytes unchanged")
	}
}

func TestPDFClean_CornerImageWithoutAnyLinkRetained(t *testing.T) {
	input := buildTestPDF(t,
		[]testImage{{name: "Im1", cm: [6]float64{150, 0, 0, 80, 450, 700}}},
		nil,
	)

	res, err := NewPDFCleaner(DefaultRule()).Clean(input)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if res.Found {
		t.Fatal("image with no overlapping link must not match")
	}
}

func TestPDFClean_BrandLinkOutsideCornerRetained(t *testing.T) {
	// The gamma link sits in the body; the corner image overlaps nothing.
	input := buildTestPDF(t,
		[]testImage{{name: "Im1", cm: [6]float64{150, 0, 0, 80, 450, 700}}},
		[]testLink{{url: "https://gamma.app/x", rect: [4]float64{10, 10, 100, 100}}},
	)

	res, err := NewPDFCleaner(DefaultRule()).Clean(input)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if res.Found {
		t.Fatal("corner image and branding link must overlap to match")
	}
}

func TestPDFClean_SharedResourceNameKept(t *testing.T) {
	// The same XObject is drawn twice; only the corner placement has the
	// branding link. The other placement must keep the resource alive.
	input := buildTestPDF(t,
		[]testImage{
			{name: "Im1", cm: [6]float64{150, 0, 0, 80, 450, 700}},
			{name: "Im1", cm: [6]float64{90, 0, 0, 90, 10, 10}},
		},
		[]testLink{{url: "https://gamma.app/x", rect: [4]float64{450, 700, 600, 780}}},
	)

	res, err := NewPDFCleaner(DefaultRule()).Clean(input)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if !res.Found || res.ImagesRemoved != 1 {
		t.Fatalf("expected one placement removed, got %+v", res)
	}

	page := readPages(t, res.Output, 1)[0]
	names := drawnNames(t, page)
	if len(names) != 1 || names[0] != "Im1" {
		t.Errorf("expected the body placement to survive, got %v", names)
	}
	if obj, _ := page.Resources.GetXObjectByName("Im1"); obj == nil {
		t.Error("still-referenced resource must not be removed")
	}
}

func TestPDFClean_SharedResourceDictAcrossPages(t *testing.T) {
	// Two pages share one indirect Resources dictionary. Cleaning page 1
	// must not prune the /Im1 entry page 2 still draws.
	input := buildSharedResourcePDF(t)

	res, err := NewPDFCleaner(DefaultRule()).Clean(input)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if !res.Found || res.ImagesRemoved != 1 || res.LinksRemoved != 1 {
		t.Fatalf("expected the page 1 pair removed, got %+v", res)
	}

	pages := readPages(t, res.Output, 2)
	if names := drawnNames(t, pages[0]); len(names) != 0 {
		t.Errorf("page 1 should draw nothing, got %v", names)
	}
	if names := drawnNames(t, pages[1]); len(names) != 1 || names[0] != "Im1" {
		t.Errorf("page 2 should still draw Im1, got %v", names)
	}
	if obj, _ := pages[1].Resources.GetXObjectByName("Im1"); obj == nil {
		t.Error("shared resource entry must survive for page 2")
	}
}

func TestPDFClean_Idempotent(t *testing.T) {
	input := buildTestPDF(t,
		[]testImage{{name: "Im1", cm: [6]float64{150, 0, 0, 80, 450, 700}}},
		[]testLink{{url: "https://gamma.app/x", rect: [4]float64{450, 700, 600, 780}}},
	)

	c := NewPDFCleaner(DefaultRule())
	first, err := c.Clean(input)
	if err != nil {
		t.Fatalf("first Clean: %v", err)
	}
	if !first.Found {
		t.Fatal("first pass should remove the watermark")
	}
	second, err := c.Clean(first.Output)
	if err != nil {
		t.Fatalf("second Clean: %v", err)
	}
	if second.Found || second.Removed != 0 {
		t.Errorf("second pass should find nothing, got %+v", second)
	}
	if !bytes.Equal(second.Output, first.Output) {
		t.Error("second pass must return its input unchanged")
	}
}

func TestPDFDetect_ReportsCornerCandidates(t *testing.T) {
	input := buildTestPDF(t,
		[]testImage{
			{name: "Im1", cm: [6]float64{150, 0, 0, 80, 450, 700}},
			{name: "Im2", cm: [6]float64{90, 0, 0, 90, 10, 10}},
		},
		[]testLink{{url: "https://gamma.app/docs/abc", rect: [4]float64{450, 700, 600, 780}}},
	)

	report, err := NewPDFCleaner(DefaultRule()).Detect(input)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !report.Found {
		t.Error("expected report.Found")
	}
	if len(report.Candidates) != 1 {
		t.Fatalf("expected 1 corner candidate, got %d: %+v", len(report.Candidates), report.Candidates)
	}
	cand := report.Candidates[0]
	if cand.Container != "page 1" || cand.Element != "Im1" || !cand.Matched {
		t.Errorf("unexpected candidate: %+v", cand)
	}
	if !strings.Contains(cand.URL, "gamma.app") {
		t.Errorf("candidate should carry the link target: %+v", cand)
	}
	if cand.LeftPct < 70 || cand.TopPct < 70 {
		t.Errorf("candidate percentages look wrong: %+v", cand)
	}
}

func TestPDFClean_NotAPDF(t *testing.T) {
	_, err := NewPDFCleaner(DefaultRule()).Clean([]byte("plain text, no header"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if ErrKind(err) != KindUnsupportedFormat {
		t.Errorf("expected %s, got %s", KindUnsupportedFormat, ErrKind(err))
	}
}

func TestPDFClean_CorruptDocument(t *testing.T) {
	_, err := NewPDFCleaner(DefaultRule()).Clean([]byte("%PDF-1.7\nthis is not a real document"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if ErrKind(err) != KindCorruptDocument {
		t.Errorf("expected %s, got %s", KindCorruptDocument, ErrKind(err))
	}
}
