package categorize

import (
	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/storage"
)

// Joiner fills sender and receiver tags from a Directory.
type Joiner struct {
	dir *Directory
}

// NewJoiner creates a joiner over dir.
func NewJoiner(dir *Directory) *Joiner {
	return &Joiner{dir: dir}
}

// Attach sets the tags of r from exact address matches, following the
// storage.FillTags rules: values already on r are kept, misses leave the
// fields nil, and a tag without a label leaves the label nil. It reports
// whether r changed.
func (j *Joiner) Attach(r *domain.TransferRecord) bool {
	var found domain.TransferRecord
	if tag, ok := j.dir.Lookup(r.FromAddress); ok {
		found.SenderCategory, found.SenderLabel = tagFields(tag)
	}
	if tag, ok := j.dir.Lookup(r.ToAddress); ok {
		found.ReceiverCategory, found.ReceiverLabel = tagFields(tag)
	}
	return storage.FillTags(r, &found)
}

// AttachAll runs Attach over records in place and returns how many changed.
func (j *Joiner) AttachAll(records []domain.TransferRecord) int {
	n := 0
	for i := range records {
		if j.Attach(&records[i]) {
			n++
		}
	}
	return n
}

func tagFields(tag domain.AddressTag) (category, label *string) {
	c := tag.Category
	if tag.Label == nil || *tag.Label == "" {
		return &c, nil
	}
	l := *tag.Label
	return &c, &l
}
