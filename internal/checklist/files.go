package checklist

import (
	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
)

// AddFiles appends files to an item. It performs no authorisation; callers route
// through the approval gate first. Duplicate file names are allowed.
func (c *Case) AddFiles(itemID string, files []*ChecklistFile) error {
	it := c.Item(itemID)
	if it == nil {
		return errors.NotFound("checklist item", itemID)
	}
	for _, f := range files {
		f.ItemID = it.ID
		it.Files = append(it.Files, f)
	}
	return nil
}

// RemoveFile detaches a file from an item and returns it.
func (c *Case) RemoveFile(itemID, fileID string) (*ChecklistFile, error) {
	it := c.Item(itemID)
	if it == nil {
		return nil, errors.NotFound("checklist item", itemID)
	}
	for i, f := range it.Files {
		if f.ID == fileID {
			it.Files = append(it.Files[:i], it.Files[i+1:]...)
			return f, nil
		}
	}
	return nil, errors.NotFound("checklist file", fileID)
}
