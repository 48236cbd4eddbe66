package cleaner

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
)

// PPTXCleaner removes the branding picture shape from slide layouts.
//
// The exporter injects the overlay once per slide layout (and occasionally
// the slide master), never into individual slides: layouts are shared by
// reference, so every slide using one inherits the picture. Deleting the
// shape from the layout is a single mutation visible to all referencing
// slides. The slides themselves are never touched.
type PPTXCleaner struct {
	rule Rule
}

// NewPPTXCleaner returns a cleaner applying the given rule.
func NewPPTXCleaner(rule Rule) *PPTXCleaner {
	return &PPTXCleaner{rule: rule}
}

// pptxPic is one <p:pic> element found in a layout or master part.
type pptxPic struct {
	start, end int // byte span within the part, end exclusive
	name       string
	url        string
	offX, offY int64
	corner     bool
	matched    bool
}

// pptxPart is a slide layout or master part with its located pictures.
type pptxPart struct {
	zipName string
	data    []byte
	pics    []pptxPic
	skipped []string
}

func (p *pptxPart) container() string {
	return strings.TrimSuffix(path.Base(p.zipName), ".xml")
}

// pptxScan is the locator's view of the whole deck.
type pptxScan struct {
	reader *zip.Reader
	cx, cy int64 // slide size in EMU
	parts  []pptxPart
}

func (c *PPTXCleaner) Detect(data []byte) (*Report, error) {
	scan, err := c.scan(data)
	if err != nil {
		return nil, err
	}

	report := &Report{Format: FormatPPTX}
	for _, part := range scan.parts {
		report.Skipped = append(report.Skipped, part.skipped...)
		for _, pic := range part.pics {
			if !pic.corner {
				continue
			}
			report.Candidates = append(report.Candidates, Candidate{
				Container: part.container(),
				Element:   pic.name,
				URL:       pic.url,
				LeftPct:   float64(pic.offX) / float64(scan.cx) * 100,
				TopPct:    float64(pic.offY) / float64(scan.cy) * 100,
				Matched:   pic.matched,
			})
			if pic.matched {
				report.Found = true
			}
		}
	}
	return report, nil
}

func (c *PPTXCleaner) Clean(data []byte) (*Result, error) {
	scan, err := c.scan(data)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	replaced := make(map[string][]byte)
	for _, part := range scan.parts {
		res.Skipped = append(res.Skipped, part.skipped...)

		removed := 0
		out := part.data
		// Splice back to front so earlier spans stay valid.
		for i := len(part.pics) - 1; i >= 0; i-- {
			pic := part.pics[i]
			if !pic.matched {
				continue
			}
			out = append(out[:pic.start:pic.start], out[pic.end:]...)
			removed++
		}
		if removed > 0 {
			replaced[part.zipName] = out
			res.ImagesRemoved += removed
			res.ContainersCleaned++
		}
	}

	if len(replaced) == 0 {
		// Nothing matched: hand the original archive back byte for byte.
		res.Output = data
		return res, nil
	}

	out, err := rewriteZip(scan.reader, replaced)
	if err != nil {
		return nil, &Error{Kind: KindCorruptDocument, Format: FormatPPTX,
			Err: fmt.Errorf("serialize: %w", err)}
	}
	res.Output = out
	res.Found = true
	res.Removed = res.ImagesRemoved
	return res, nil
}

// scan opens the archive and locates every picture shape in the slide
// layouts and masters. Individual slides are deliberately not examined.
func (c *PPTXCleaner) scan(data []byte) (*pptxScan, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &Error{Kind: KindUnsupportedFormat, Format: FormatPPTX,
			Err: fmt.Errorf("not a zip archive: %w", err)}
	}

	presData, err := readZipFile(zr, "ppt/presentation.xml")
	if err != nil {
		return nil, &Error{Kind: KindUnsupportedFormat, Format: FormatPPTX,
			Err: fmt.Errorf("archive is not a presentation: %w", err)}
	}
	cx, cy, err := parseSlideSize(presData)
	if err != nil {
		return nil, &Error{Kind: KindCorruptDocument, Format: FormatPPTX, Err: err}
	}

	scan := &pptxScan{reader: zr, cx: cx, cy: cy}
	for _, f := range zr.File {
		if !isLayoutPart(f.Name) {
			continue
		}
		part := pptxPart{zipName: f.Name}
		part.data, err = readZipFile(zr, f.Name)
		if err != nil {
			return nil, &Error{Kind: KindCorruptDocument, Format: FormatPPTX,
				Err: fmt.Errorf("read %s: %w", f.Name, err)}
		}

		rels, relErr := readRelationships(zr, f.Name)
		if relErr != nil {
			part.skipped = append(part.skipped,
				fmt.Sprintf("%s: relationships unreadable, hyperlinks unresolvable: %v", part.container(), relErr))
		}

		c.locatePics(&part, rels, cx, cy)
		scan.parts = append(scan.parts, part)
	}
	return scan, nil
}

// locatePics finds each <p:pic> span in the part and evaluates the
// predicate. A picture that cannot be parsed is skipped, not fatal.
func (c *PPTXCleaner) locatePics(part *pptxPart, rels map[string]string, cx, cy int64) {
	for from := 0; ; {
		start, end, ok := nextPicSpan(part.data, from)
		if !ok {
			break
		}
		from = end

		pic := pptxPic{start: start, end: end}
		parsed, err := parsePic(part.data[start:end])
		if err != nil {
			part.skipped = append(part.skipped,
				fmt.Sprintf("%s: unparsable picture shape at offset %d: %v", part.container(), start, err))
			part.pics = append(part.pics, pic)
			continue
		}
		pic.name = parsed.NvPicPr.CNvPr.Name
		pic.offX = parsed.SpPr.Xfrm.Off.X
		pic.offY = parsed.SpPr.Xfrm.Off.Y
		pic.corner = c.rule.PositionMatches(float64(pic.offX), float64(pic.offY), float64(cx), float64(cy))

		if hl := parsed.NvPicPr.CNvPr.HlinkClick; hl != nil && hl.RID != "" {
			target, ok := rels[hl.RID]
			if !ok {
				part.skipped = append(part.skipped,
					fmt.Sprintf("%s: shape %q links to unknown relationship %s", part.container(), pic.name, hl.RID))
			}
			pic.url = target
		}

		pic.matched = pic.corner && c.rule.LinkMatches(pic.url)
		part.pics = append(part.pics, pic)
	}
}

// isLayoutPart reports whether a zip entry is a slide layout or slide
// master definition (not a relationship part).
func isLayoutPart(name string) bool {
	if !strings.HasSuffix(name, ".xml") || strings.Contains(name, "/_rels/") {
		return false
	}
	return strings.HasPrefix(name, "ppt/slideLayouts/") || strings.HasPrefix(name, "ppt/slideMasters/")
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// readRelationships loads the part's .rels companion and returns rId →
// external target. A part with no .rels file simply has no hyperlinks.
func readRelationships(zr *zip.Reader, partName string) (map[string]string, error) {
	relsName := path.Dir(partName) + "/_rels/" + path.Base(partName) + ".rels"
	data, err := readZipFile(zr, relsName)
	if err != nil {
		return nil, nil
	}
	return parseRelationships(data)
}

// rewriteZip copies every archive entry, substituting mutated parts. Entry
// order, names and compression methods are preserved so untouched parts
// round-trip byte for byte.
func rewriteZip(zr *zip.Reader, replaced map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		hdr := f.FileHeader
		w, err := zw.CreateHeader(&hdr)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", f.Name, err)
		}
		if data, ok := replaced[f.Name]; ok {
			if _, err := w.Write(data); err != nil {
				return nil, fmt.Errorf("write %s: %w", f.Name, err)
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		_, err = io.Copy(w, rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("copy %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
