package asset

// journal is a nested undo log. Writes are recorded only while at least one
// checkpoint is open; when the last one closes the log is dropped.
type journal struct {
	open    int
	entries []func()
}

func (j *journal) checkpoint() int {
	j.open++
	return len(j.entries)
}

func (j *journal) record(undo func()) {
	if j.open > 0 {
		j.entries = append(j.entries, undo)
	}
}

func (j *journal) revertTo(cp int) {
	if cp > len(j.entries) {
		cp = len(j.entries)
	}
	for i := len(j.entries) - 1; i >= cp; i-- {
		j.entries[i]()
	}
	j.entries = j.entries[:cp]
	j.close()
}

func (j *journal) release(int) {
	j.close()
}

func (j *journal) close() {
	if j.open > 0 {
		j.open--
	}
	if j.open == 0 {
		j.entries = nil
	}
}
