package mutate

import (
	"tagfs/internal/index"
	"tagfs/internal/storage"
)

// Reconcile brings the index in line with the files present in src. New
// files are added untagged. A file that disappeared while a new file with the
// same fingerprint appeared is treated as renamed and keeps its tags. Files
// gone for good are forgotten.
//
// Fingerprints are computed without holding the index lock.
func (t *Translator) Reconcile(src *storage.Source) error {
	entries, err := src.Enumerate()
	if err != nil {
		return index.NewError(index.OpReconcile, src.Root(), err)
	}

	present := make(map[string]storage.Entry, len(entries))
	for _, e := range entries {
		present[e.Name] = e
	}

	// Find the names the index does not know yet, and the ones whose size
	// changed since they were last seen.
	var unknown []storage.Entry
	var missing int
	err = t.store.View(func(idx *index.Index) error {
		for _, e := range entries {
			f, ok := idx.FileByName(e.Name)
			if !ok || f.Size != e.Size || f.Fingerprint == "" {
				unknown = append(unknown, e)
			}
		}
		for _, f := range idx.Files() {
			if _, ok := present[f.Name]; !ok {
				missing++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(unknown) == 0 && missing == 0 {
		logger.Debug("Reconcile: index matches %d files in %s", len(entries), src.Root())
		return nil
	}

	fingerprints := make(map[string]string, len(unknown))
	for _, e := range unknown {
		fp, err := src.Fingerprint(e.Name)
		if err != nil {
			// The file may have vanished in between; the next pass picks it up.
			logger.Warn("Failed to fingerprint %s: %v", e.Name, err)
			continue
		}
		fingerprints[e.Name] = fp
	}

	var added, renamed, removed int
	err = t.commit(index.OpReconcile, src.Root(), func(idx *index.Index) error {
		// Files known to the index that are no longer on disk, by fingerprint.
		gone := make(map[string][]index.FileID)
		for _, f := range idx.Files() {
			if _, ok := present[f.Name]; !ok && f.Fingerprint != "" {
				gone[f.Fingerprint] = append(gone[f.Fingerprint], f.ID)
			}
		}

		for _, e := range unknown {
			fp, ok := fingerprints[e.Name]
			if !ok {
				continue
			}
			if _, known := idx.FileByName(e.Name); !known {
				if ids := gone[fp]; len(ids) > 0 {
					id := ids[0]
					gone[fp] = ids[1:]
					old, _ := idx.File(id)
					if err := idx.RenameFile(id, e.Name); err != nil {
						return err
					}
					logger.Info("Reconcile: %s was renamed to %s", old.Name, e.Name)
					renamed++
					continue
				}
				added++
			}
			idx.AddFile(e.Name, e.Size, fp)
		}

		for _, f := range idx.Files() {
			if _, ok := present[f.Name]; !ok {
				idx.RemoveFile(f.ID)
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("Reconciled %s: %d added, %d renamed, %d removed", src.Root(), added, renamed, removed)
	return nil
}
