package cleaner

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// Minimal views of the OOXML parts this tool reads. Element and attribute
// tags match on local names, so the p:/a:/r: prefixes in the documents are
// irrelevant to decoding.

// presentationXML reads the slide dimensions from ppt/presentation.xml.
type presentationXML struct {
	SldSz struct {
		Cx int64 `xml:"cx,attr"`
		Cy int64 `xml:"cy,attr"`
	} `xml:"sldSz"`
}

// relationshipsXML reads a part's .rels companion file.
type relationshipsXML struct {
	Rels []struct {
		ID         string `xml:"Id,attr"`
		Target     string `xml:"Target,attr"`
		TargetMode string `xml:"TargetMode,attr"`
	} `xml:"Relationship"`
}

// picXML reads the pieces of a <p:pic> element the predicate needs: the
// shape name, the click hyperlink relationship and the placement offset.
type picXML struct {
	NvPicPr struct {
		CNvPr struct {
			Name       string `xml:"name,attr"`
			HlinkClick *struct {
				RID string `xml:"id,attr"`
			} `xml:"hlinkClick"`
		} `xml:"cNvPr"`
	} `xml:"nvPicPr"`
	SpPr struct {
		Xfrm struct {
			Off struct {
				X int64 `xml:"x,attr"`
				Y int64 `xml:"y,attr"`
			} `xml:"off"`
			Ext struct {
				Cx int64 `xml:"cx,attr"`
				Cy int64 `xml:"cy,attr"`
			} `xml:"ext"`
		} `xml:"xfrm"`
	} `xml:"spPr"`
}

func parseSlideSize(presentation []byte) (cx, cy int64, err error) {
	var pres presentationXML
	if err := xml.Unmarshal(presentation, &pres); err != nil {
		return 0, 0, fmt.Errorf("parse presentation.xml: %w", err)
	}
	if pres.SldSz.Cx <= 0 || pres.SldSz.Cy <= 0 {
		return 0, 0, fmt.Errorf("presentation.xml has no usable slide size")
	}
	return pres.SldSz.Cx, pres.SldSz.Cy, nil
}

// parseRelationships returns rId → target for external relationships.
// Internal targets (images, themes) are not hyperlinks and are ignored.
func parseRelationships(data []byte) (map[string]string, error) {
	var rels relationshipsXML
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil, err
	}
	targets := make(map[string]string, len(rels.Rels))
	for _, rel := range rels.Rels {
		if rel.TargetMode == "External" {
			targets[rel.ID] = rel.Target
		}
	}
	return targets, nil
}

func parsePic(span []byte) (*picXML, error) {
	var pic picXML
	if err := xml.Unmarshal(span, &pic); err != nil {
		return nil, err
	}
	return &pic, nil
}

var (
	picOpen  = []byte("<p:pic")
	picClose = []byte("</p:pic>")
)

// nextPicSpan finds the byte span of the next <p:pic> element at or after
// `from`. Picture elements never nest, so the first closing tag ends the
// span.
func nextPicSpan(data []byte, from int) (start, end int, ok bool) {
	for search := from; search < len(data); {
		i := bytes.Index(data[search:], picOpen)
		if i < 0 {
			return 0, 0, false
		}
		start = search + i
		after := start + len(picOpen)
		// Reject longer element names sharing the prefix.
		if after < len(data) && data[after] != '>' && data[after] != ' ' &&
			data[after] != '\t' && data[after] != '\r' && data[after] != '\n' {
			search = after
			continue
		}
		j := bytes.Index(data[start:], picClose)
		if j < 0 {
			return 0, 0, false
		}
		return start, start + j + len(picClose), true
	}
	return 0, 0, false
}
