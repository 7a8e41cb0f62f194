package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Default returns an empty document with every top-level key present.
func Default() Document {
	var doc Document
	doc.Backfill()
	return doc
}

// Backfill sets every missing top-level key to its empty default and reports
// which keys were filled. Existing data is left untouched.
func (d *Document) Backfill() []string {
	var filled []string
	fill := func(key string, missing bool) {
		if missing {
			filled = append(filled, key)
		}
	}

	fill(KeyAdmins, d.Admins == nil)
	if d.Admins == nil {
		d.Admins = []Admin{}
	}
	fill(KeyStaff, d.Staff == nil)
	if d.Staff == nil {
		d.Staff = []Staff{}
	}
	fill(KeyMembers, d.Members == nil)
	if d.Members == nil {
		d.Members = []Member{}
	}
	fill(KeyAttendance, d.Attendance == nil)
	if d.Attendance == nil {
		d.Attendance = map[string]map[string]Attendance{}
	}
	for _, key := range ContentKeys {
		items, _ := d.Collection(key)
		fill(key, *items == nil)
		if *items == nil {
			*items = []Content{}
		}
	}
	for _, key := range GiftKeys {
		items, _ := d.Gifts(key)
		fill(key, *items == nil)
		if *items == nil {
			*items = []Gift{}
		}
	}
	fill(KeyPrayers, d.Prayers == nil)
	if d.Prayers == nil {
		d.Prayers = []Prayer{}
	}
	fill(KeyPulses, d.Pulses == nil)
	if d.Pulses == nil {
		d.Pulses = []Pulse{}
	}
	for i := range d.Staff {
		if d.Staff[i].Perms == nil {
			d.Staff[i].Perms = Perms{}
		}
	}
	return filled
}

// Decode parses a stored document and backfills missing keys.
func Decode(data []byte) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Document{}, fmt.Errorf("decode document: expected a JSON object")
	}
	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	doc.Backfill()
	return doc, nil
}

// Encode renders the document the way it is stored: indented, UTF-8, trailing newline.
func Encode(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return buf.Bytes(), nil
}
