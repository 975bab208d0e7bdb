// Package models defines the domain types for cqsync.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// SuccessCode is the envelope code the remote uses for a successful page.
const SuccessCode = 200

var datePrefixRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// ContentRecord is one bookmark as returned by the remote library.
type ContentRecord struct {
	ID              string       `json:"bookmark_id"`
	Title           string       `json:"title"`
	URL             string       `json:"url"`
	URLs            URLList      `json:"urls"`
	MarkdownContent string       `json:"markdown_content"`
	Highlights      []Annotation `json:"highlight_list"`
	CreateTime      string       `json:"create_time"`
	UpdateTime      string       `json:"update_time"`
}

// Validate checks the fields the sync engine relies on. CreateTime drives
// directory bucketing, and either a title or an id is needed for a file name.
func (r *ContentRecord) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.CreateTime, validation.Required, validation.Match(datePrefixRe)),
		validation.Field(&r.Title, validation.When(r.ID == "", validation.Required)),
	)
}

// Annotation is a highlight (and optional note) attached to a bookmark.
type Annotation struct {
	ID              string `json:"highlight_id"`
	BookmarkID      string `json:"bookmark_id"`
	ColorType       int    `json:"color_type"`
	DashingType     int    `json:"dashing_type"`
	Content         string `json:"annotation_content"`
	ModifiedContent string `json:"annotation_modify_content"`
	Note            string `json:"note_content"`
	Version         string `json:"version"`
	CreateTime      string `json:"create_time"`
	UpdateTime      string `json:"update_time"`
}

// URLList holds alternate URLs. The remote sends either a single string or
// a JSON array; both decode into a list.
type URLList []string

// UnmarshalJSON implements json.Unmarshaler.
func (u *URLList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*u = nil
		return nil
	}
	if data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("urls: %w", err)
		}
		*u = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("urls: %w", err)
	}
	if s == "" {
		*u = nil
		return nil
	}
	*u = URLList{s}
	return nil
}

// RejectedRecord is a record that could not be decoded from a page.
type RejectedRecord struct {
	Index int
	Err   error
}

// Page is one fetch result.
type Page struct {
	Code     int
	Message  string
	Records  []ContentRecord
	Rejected []RejectedRecord
}

// Success reports whether the remote accepted the request.
func (p *Page) Success() bool {
	return p.Code == SuccessCode
}

// Len is the number of entries the remote returned, including rejected ones.
func (p *Page) Len() int {
	return len(p.Records) + len(p.Rejected)
}
