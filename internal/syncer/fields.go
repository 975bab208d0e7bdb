package syncer

import "github.com/starford/cqsync/internal/models"

// templateData translates a wire record into the camelCase field set the
// document templates are written against.
func templateData(rec *models.ContentRecord) map[string]any {
	if rec == nil {
		return nil
	}
	highlights := make([]map[string]any, 0, len(rec.Highlights))
	for _, h := range rec.Highlights {
		highlights = append(highlights, map[string]any{
			"highlightId":             h.ID,
			"bookmarkId":              h.BookmarkID,
			"colorType":               h.ColorType,
			"dashingType":             h.DashingType,
			"annotationContent":       h.Content,
			"annotationModifyContent": h.ModifiedContent,
			"noteContent":             h.Note,
			"version":                 h.Version,
			"createTime":              h.CreateTime,
			"updateTime":              h.UpdateTime,
		})
	}
	urls := make([]string, len(rec.URLs))
	copy(urls, rec.URLs)

	return map[string]any{
		"bookmarkId":      rec.ID,
		"title":           rec.Title,
		"url":             rec.URL,
		"urls":            urls,
		"markdownContent": rec.MarkdownContent,
		"highlightList":   highlights,
		"createTime":      rec.CreateTime,
		"updateTime":      rec.UpdateTime,
	}
}
