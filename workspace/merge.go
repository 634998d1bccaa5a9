package workspace

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// version is one side of a file in a three-way merge
type version struct {
	content string
	exists  bool
}

func (v version) equal(o version) bool {
	return v.exists == o.exists && (!v.exists || v.content == o.content)
}

// mergeFile combines local and remote edits of a file relative to base.
// When both sides changed the same region, or one side deleted a file the
// other changed, the remote version wins and conflict is true.
func mergeFile(base, local, remote version) (merged version, conflict bool) {
	switch {
	case local.equal(remote), remote.equal(base):
		return local, false
	case local.equal(base):
		return remote, false
	case !local.exists || !remote.exists || !base.exists:
		return remote, true
	}

	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(base.content, local.content)
	result, applied := dmp.PatchApply(patches, remote.content)
	for _, ok := range applied {
		if !ok {
			return remote, true
		}
	}

	// Patches applied fuzzily over an overlapping remote edit still count as conflicts
	if overlaps(dmp, base.content, local.content, remote.content) {
		return remote, true
	}
	return version{content: result, exists: true}, false
}

// overlaps reports whether local and remote both changed a common span of base
func overlaps(dmp *diffmatchpatch.DiffMatchPatch, base, local, remote string) bool {
	localSpans := changedSpans(dmp.DiffMain(base, local, false))
	remoteSpans := changedSpans(dmp.DiffMain(base, remote, false))
	for _, l := range localSpans {
		for _, r := range remoteSpans {
			if l.start <= r.end && r.start <= l.end {
				return true
			}
		}
	}
	return false
}

type span struct {
	start, end int
}

// changedSpans returns the ranges of base touched by diffs, in base offsets.
// Insertions produce an empty range at their position.
func changedSpans(diffs []diffmatchpatch.Diff) []span {
	var spans []span
	offset := 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			offset += len(d.Text)
		case diffmatchpatch.DiffDelete:
			spans = append(spans, span{start: offset, end: offset + len(d.Text)})
			offset += len(d.Text)
		case diffmatchpatch.DiffInsert:
			spans = append(spans, span{start: offset, end: offset})
		}
	}
	return spans
}
