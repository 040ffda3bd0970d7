package cascade

// Record is one normalised option returned by a stage fetch. Payload holds
// the adapter's typed struct for the option and is opaque to the controller.
type Record struct {
	ID          string
	DisplayName string
	Detail      string
	Payload     any

	// issued is the generation of the option list this record was handed
	// out in. Zero for records the controller never issued.
	issued uint64
}

// Issued returns the generation the record was issued under, zero if the
// controller did not issue it.
func (r Record) Issued() uint64 { return r.issued }

// Lineage is the ordered selections of every stage above the one being
// fetched. Element i is the selection of Stage(i).
type Lineage []Record

// Parent returns the selection of the immediately preceding stage, or nil
// when fetching the first stage.
func (l Lineage) Parent() *Record {
	if len(l) == 0 {
		return nil
	}
	parent := l[len(l)-1]
	return &parent
}

// Selection returns the record selected at stage.
func (l Lineage) Selection(stage Stage) (Record, bool) {
	if !stage.Valid() || int(stage) >= len(l) {
		return Record{}, false
	}
	return l[stage], true
}
