package workspace

import "github.com/fruitsalade/fruitsalade/workspace/pkg/models"

// Admission is the Duplicate Guard verdict for an uploaded record.
type Admission int

const (
	Accepted Admission = iota
	RejectedDuplicate
)

// Admit rejects candidate when its content id is already listed.
// A rejection does not undo the remote upload.
func Admit(candidate models.FileRecord, list []models.FileRecord) Admission {
	if models.IndexOf(list, candidate.ContentID) >= 0 {
		return RejectedDuplicate
	}
	return Accepted
}
