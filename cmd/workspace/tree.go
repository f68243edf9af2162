package main

import (
	"fmt"

	"github.com/disiqueira/gotree/v3"

	"github.com/fruitsalade/fruitsalade/workspace/pkg/models"
)

// renderTree draws the listing with the workspace as root. Folder archives
// end in a slash; shared records carry their owner as a child node.
func renderTree(c models.Context, view models.View, files []models.FileRecord) string {
	root := gotree.New(fmt.Sprintf("%s [%s]", c.Name, view))
	for _, f := range files {
		label := f.Name
		if !f.IsFile {
			label += "/"
		}
		node := root.Add(fmt.Sprintf("%s  %s  %s", label, f.SizeLabel, f.DateLabel))
		if f.Shared() {
			node.Add("shared by " + f.SharedBy)
		}
	}
	return root.Print()
}
