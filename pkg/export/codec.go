package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// Format selects the on-disk encoding
type Format string

const (
	FormatJSON   Format = "json"
	FormatSnappy Format = "snappy"
)

// Ext returns the file extension for the format
func (f Format) Ext() string {
	if f == FormatSnappy {
		return ".json.sz"
	}
	return ".json"
}

// ContentType returns the MIME type for the format
func (f Format) ContentType() string {
	if f == FormatSnappy {
		return "application/x-snappy-framed"
	}
	return "application/json"
}

// Encode writes doc to w in the given format
func Encode(w io.Writer, doc Document, format Format) error {
	switch format {
	case FormatJSON, "":
		return json.NewEncoder(w).Encode(doc)
	case FormatSnappy:
		sw := snappy.NewBufferedWriter(w)
		if err := json.NewEncoder(sw).Encode(doc); err != nil {
			sw.Close()
			return err
		}
		return sw.Close()
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// Decode reads a document written by Encode
func Decode(r io.Reader, format Format) (Document, error) {
	var doc Document
	switch format {
	case FormatJSON, "":
	case FormatSnappy:
		r = snappy.NewReader(r)
	default:
		return doc, fmt.Errorf("unknown export format %q", format)
	}
	err := json.NewDecoder(r).Decode(&doc)
	return doc, err
}
