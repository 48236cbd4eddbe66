package cleaner

import (
	"bytes"
	"fmt"

	"github.com/unidoc/unipdf/v3/contentstream"
	"github.com/unidoc/unipdf/v3/core"
	"github.com/unidoc/unipdf/v3/model"
)

// PDFCleaner removes the branding image/link pair from PDF pages.
//
// The exporter draws the overlay as an image XObject in the page corner and
// lays a clickable link annotation over it. The locator therefore needs both
// halves: the image placement from the content stream and the URI from the
// annotation, associated by rectangle overlap.
type PDFCleaner struct {
	rule Rule
}

// NewPDFCleaner returns a cleaner applying the given rule.
func NewPDFCleaner(rule Rule) *PDFCleaner {
	return &PDFCleaner{rule: rule}
}

// pdfPlacement is one image drawing operation in a page content stream.
type pdfPlacement struct {
	opIndex int
	name    string
	bounds  rect
}

// pdfLink is one link annotation with a URI action.
type pdfLink struct {
	annotIndex int
	url        string
	bounds     rect
	brand      bool
}

// pdfCandidate pairs a corner image placement with its branding link.
type pdfCandidate struct {
	placement  pdfPlacement
	annotIndex int
	url        string
}

// pdfPageScan is the locator's view of a single page.
type pdfPageScan struct {
	pageNum       int
	page          *model.PdfPage
	width, height float64
	ops           contentstream.ContentStreamOperations
	placements    []pdfPlacement
	links         []pdfLink
	annots        []*model.PdfAnnotation
	candidates    []pdfCandidate
	skipped       []string
}

func (c *PDFCleaner) Detect(data []byte) (*Report, error) {
	_, scans, err := c.scan(data)
	if err != nil {
		return nil, err
	}

	report := &Report{Format: FormatPDF}
	for _, ps := range scans {
		report.Skipped = append(report.Skipped, ps.skipped...)
		matched := make(map[int]string, len(ps.candidates))
		for _, cand := range ps.candidates {
			matched[cand.placement.opIndex] = cand.url
		}
		for _, pl := range ps.placements {
			if !c.rule.PositionMatches(pl.bounds.x0, pl.bounds.y0, ps.width, ps.height) {
				continue
			}
			url, ok := matched[pl.opIndex]
			report.Candidates = append(report.Candidates, Candidate{
				Container: fmt.Sprintf("page %d", ps.pageNum),
				Element:   pl.name,
				URL:       url,
				LeftPct:   pl.bounds.x0 / ps.width * 100,
				TopPct:    pl.bounds.y0 / ps.height * 100,
				Matched:   ok,
			})
			if ok {
				report.Found = true
			}
		}
	}
	return report, nil
}

func (c *PDFCleaner) Clean(data []byte) (*Result, error) {
	reader, scans, err := c.scan(data)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, ps := range scans {
		res.Skipped = append(res.Skipped, ps.skipped...)
	}

	total := 0
	for _, ps := range scans {
		total += len(ps.candidates)
	}
	if total == 0 {
		// No re-serialization on a no-match document: the caller gets the
		// original bytes back unchanged.
		res.Output = data
		return res, nil
	}

	xobjUse := xobjectDictUsage(reader.PageList)
	for i := range scans {
		ps := &scans[i]
		if len(ps.candidates) == 0 {
			continue
		}
		if err := c.removeFromPage(ps, res, xobjUse); err != nil {
			return nil, &Error{Kind: KindCorruptDocument, Format: FormatPDF, Err: err}
		}
		res.ContainersCleaned++
	}

	out, err := writePDF(reader)
	if err != nil {
		return nil, &Error{Kind: KindCorruptDocument, Format: FormatPDF, Err: fmt.Errorf("serialize: %w", err)}
	}
	res.Output = out
	res.Found = true
	res.Removed = res.ImagesRemoved + res.LinksRemoved
	return res, nil
}

// scan loads the document and runs the locator over every page.
func (c *PDFCleaner) scan(data []byte) (*model.PdfReader, []pdfPageScan, error) {
	reader, err := openPDF(data)
	if err != nil {
		return nil, nil, err
	}

	scans := make([]pdfPageScan, 0, len(reader.PageList))
	for i, page := range reader.PageList {
		ps := pdfPageScan{pageNum: i + 1, page: page}

		box, err := page.GetMediaBox()
		if err != nil {
			ps.skipped = append(ps.skipped, fmt.Sprintf("page %d: no media box: %v", ps.pageNum, err))
			scans = append(scans, ps)
			continue
		}
		ps.width = box.Urx - box.Llx
		ps.height = box.Ury - box.Lly

		contents, err := page.GetAllContentStreams()
		if err != nil {
			return nil, nil, &Error{Kind: KindCorruptDocument, Format: FormatPDF,
				Err: fmt.Errorf("page %d: content streams: %w", ps.pageNum, err)}
		}
		ops, err := contentstream.NewContentStreamParser(contents).Parse()
		if err != nil {
			return nil, nil, &Error{Kind: KindCorruptDocument, Format: FormatPDF,
				Err: fmt.Errorf("page %d: parse content stream: %w", ps.pageNum, err)}
		}
		ps.ops = *ops

		c.collectPlacements(&ps)
		c.collectLinks(&ps)
		c.associate(&ps)
		scans = append(scans, ps)
	}
	return reader, scans, nil
}

// collectPlacements walks the content stream operations tracking the CTM
// through q/Q/cm, recording the placement rectangle of every image Do.
func (c *PDFCleaner) collectPlacements(ps *pdfPageScan) {
	ctm := identityMatrix()
	var stack []matrix

	for i, op := range ps.ops {
		switch op.Operand {
		case "q":
			stack = append(stack, ctm)
		case "Q":
			if n := len(stack); n > 0 {
				ctm = stack[n-1]
				stack = stack[:n-1]
			}
		case "cm":
			m, err := operandsToMatrix(op.Params)
			if err != nil {
				ps.skipped = append(ps.skipped,
					fmt.Sprintf("page %d: op %d: bad cm operands: %v", ps.pageNum, i, err))
				continue
			}
			ctm = ctm.concat(m)
		case "Do":
			if len(op.Params) != 1 {
				continue
			}
			name, ok := core.GetName(op.Params[0])
			if !ok {
				ps.skipped = append(ps.skipped,
					fmt.Sprintf("page %d: op %d: Do without a name operand", ps.pageNum, i))
				continue
			}
			if ps.page.Resources == nil {
				continue
			}
			_, xtype := ps.page.Resources.GetXObjectByName(*name)
			if xtype != model.XObjectTypeImage {
				continue
			}
			ps.placements = append(ps.placements, pdfPlacement{
				opIndex: i,
				name:    name.String(),
				bounds:  ctm.unitSquareBounds(),
			})
		}
	}
}

// collectLinks gathers link annotations carrying a URI action.
func (c *PDFCleaner) collectLinks(ps *pdfPageScan) {
	ps.annots, _ = ps.page.GetAnnotations()

	for i, annot := range ps.annots {
		link, ok := annot.GetContext().(*model.PdfAnnotationLink)
		if !ok {
			continue
		}
		url, ok := linkURI(link)
		if !ok {
			continue
		}
		arr, ok := core.GetArray(annot.Rect)
		if !ok {
			ps.skipped = append(ps.skipped,
				fmt.Sprintf("page %d: link annotation %d has no rectangle", ps.pageNum, i))
			continue
		}
		vals, err := arr.ToFloat64Array()
		if err != nil || len(vals) != 4 {
			ps.skipped = append(ps.skipped,
				fmt.Sprintf("page %d: link annotation %d has a malformed rectangle", ps.pageNum, i))
			continue
		}
		ps.links = append(ps.links, pdfLink{
			annotIndex: i,
			url:        url,
			bounds:     rectFromCorners(vals[0], vals[1], vals[2], vals[3]),
			brand:      c.rule.LinkMatches(url),
		})
	}
}

// associate pairs corner image placements with overlapping branding links.
// Both halves are required; a corner image without a branding link, or a
// branding link elsewhere on the page, is left alone.
func (c *PDFCleaner) associate(ps *pdfPageScan) {
	for _, pl := range ps.placements {
		if !c.rule.PositionMatches(pl.bounds.x0, pl.bounds.y0, ps.width, ps.height) {
			continue
		}
		for _, ln := range ps.links {
			if !ln.brand {
				continue
			}
			if ln.bounds.expand(c.rule.OverlapTolerance).overlaps(pl.bounds) {
				ps.candidates = append(ps.candidates, pdfCandidate{
					placement:  pl,
					annotIndex: ln.annotIndex,
					url:        ln.url,
				})
				break
			}
		}
	}
}

// removeFromPage deletes the candidate drawing operations and detaches their
// link annotations, then rewrites the page content stream. Resource entries
// are dropped only when no surviving operation still references them.
func (c *PDFCleaner) removeFromPage(ps *pdfPageScan, res *Result, xobjUse map[*core.PdfObjectDictionary]int) error {
	dropOps := make(map[int]bool, len(ps.candidates))
	dropAnnots := make(map[int]bool, len(ps.candidates))
	dropNames := make(map[string]bool, len(ps.candidates))
	for _, cand := range ps.candidates {
		dropOps[cand.placement.opIndex] = true
		dropAnnots[cand.annotIndex] = true
		dropNames[cand.placement.name] = true
	}

	kept := make(contentstream.ContentStreamOperations, 0, len(ps.ops))
	stillUsed := make(map[string]bool)
	for i, op := range ps.ops {
		if dropOps[i] {
			res.ImagesRemoved++
			continue
		}
		if op.Operand == "Do" && len(op.Params) == 1 {
			if name, ok := core.GetName(op.Params[0]); ok {
				stillUsed[name.String()] = true
			}
		}
		kept = append(kept, op)
	}

	if err := ps.page.SetContentStreams([]string{string(kept.Bytes())}, core.NewFlateEncoder()); err != nil {
		return fmt.Errorf("page %d: set content streams: %w", ps.pageNum, err)
	}

	// Detach matched link annotations, keep everything else.
	if len(ps.annots) > 0 {
		keptAnnots := make([]*model.PdfAnnotation, 0, len(ps.annots))
		for i, annot := range ps.annots {
			if dropAnnots[i] {
				res.LinksRemoved++
				continue
			}
			keptAnnots = append(keptAnnots, annot)
		}
		ps.page.SetAnnotations(keptAnnots)
	}

	// Remove orphaned XObject resources. A name still drawn elsewhere on
	// the page keeps its entry, and a dictionary shared between pages is
	// never pruned: another page's content stream may draw names this scan
	// cannot see.
	if ps.page.Resources != nil && ps.page.Resources.XObject != nil {
		if xobjs, ok := core.GetDict(ps.page.Resources.XObject); ok && xobjUse[xobjs] <= 1 {
			for name := range dropNames {
				if !stillUsed[name] {
					xobjs.Remove(core.PdfObjectName(name))
				}
			}
		}
	}
	return nil
}

// xobjectDictUsage counts how many pages reference each XObject resource
// dictionary, resolved to the underlying object so indirect sharing is
// visible.
func xobjectDictUsage(pages []*model.PdfPage) map[*core.PdfObjectDictionary]int {
	use := make(map[*core.PdfObjectDictionary]int)
	for _, page := range pages {
		if page.Resources == nil || page.Resources.XObject == nil {
			continue
		}
		if d, ok := core.GetDict(page.Resources.XObject); ok {
			use[d]++
		}
	}
	return use
}

// openPDF opens a PDF byte buffer, handling null encryption schemes.
func openPDF(data []byte) (*model.PdfReader, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("%PDF-")) {
		return nil, &Error{Kind: KindUnsupportedFormat, Format: FormatPDF,
			Err: fmt.Errorf("missing %%PDF header")}
	}
	reader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Kind: KindCorruptDocument, Format: FormatPDF, Err: err}
	}
	isEncrypted, err := reader.IsEncrypted()
	if err != nil {
		return nil, &Error{Kind: KindCorruptDocument, Format: FormatPDF, Err: err}
	}
	if isEncrypted {
		if _, err := reader.Decrypt([]byte("")); err != nil {
			return nil, &Error{Kind: KindCorruptDocument, Format: FormatPDF,
				Err: fmt.Errorf("decrypt: %w", err)}
		}
	}
	return reader, nil
}

// writePDF re-encodes every page of the mutated document.
func writePDF(reader *model.PdfReader) ([]byte, error) {
	writer := model.NewPdfWriter()
	for i, page := range reader.PageList {
		if err := writer.AddPage(page); err != nil {
			return nil, fmt.Errorf("add page %d: %w", i+1, err)
		}
	}
	var buf bytes.Buffer
	if err := writer.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// linkURI extracts the URI action target from a link annotation.
func linkURI(link *model.PdfAnnotationLink) (string, bool) {
	action, ok := core.GetDict(link.A)
	if !ok {
		return "", false
	}
	uri, ok := core.GetString(action.Get("URI"))
	if !ok {
		return "", false
	}
	return uri.Decoded(), true
}

// operandsToMatrix converts the six cm operands to a matrix.
func operandsToMatrix(params []core.PdfObject) (matrix, error) {
	if len(params) != 6 {
		return matrix{}, fmt.Errorf("expected 6 operands, got %d", len(params))
	}
	var vals [6]float64
	for i, p := range params {
		v, err := core.GetNumberAsFloat(p)
		if err != nil {
			return matrix{}, fmt.Errorf("operand %d: %w", i, err)
		}
		vals[i] = v
	}
	return matrix{a: vals[0], b: vals[1], c: vals[2], d: vals[3], e: vals[4], f: vals[5]}, nil
}
