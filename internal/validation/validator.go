package validation

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/devrev/analysisdb/internal/errors"
	"github.com/devrev/analysisdb/internal/model"
)

const (
	// MaxFileSize is the default limit on the text of one file
	MaxFileSize = 64 << 20 // 64 MB
	// MaxPathSize bounds a file path relative to its root
	MaxPathSize = 4096
)

// Validator validates the parts of a change batch before any of it is
// written
type Validator struct {
	maxFileSize int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{maxFileSize: MaxFileSize}
}

// NewValidatorWithLimits creates a validator with a custom file size limit.
// A non-positive limit disables the check.
func NewValidatorWithLimits(maxFileSize int) *Validator {
	return &Validator{maxFileSize: maxFileSize}
}

// ValidateFileText validates the new text of a file. Nil text is valid and
// means the content is reset.
func (v *Validator) ValidateFileText(id model.FileID, text *string) error {
	if text == nil {
		return nil
	}
	if v.maxFileSize > 0 && len(*text) > v.maxFileSize {
		return errors.FileTooLarge(uint32(id), len(*text), v.maxFileSize)
	}
	if !utf8.ValidString(*text) {
		return errors.InvalidChange(fmt.Sprintf("text of file %d is not valid UTF-8", id)).
			WithDetail("file_id", uint32(id))
	}
	return nil
}

// RootAssignment is the file to root mapping a roots replacement produces
type RootAssignment struct {
	// FileRoots maps every file to the root it ends up in
	FileRoots map[model.FileID]model.SourceRootID
	// Duplicates lists files present in more than one root, in ascending
	// order. The last root listing a file wins.
	Duplicates []model.FileID
}

// ValidateRoots validates a roots replacement and computes the resulting
// file assignment. Root ids are positions in roots.
func (v *Validator) ValidateRoots(roots []*model.SourceRoot) (*RootAssignment, error) {
	assignment := &RootAssignment{FileRoots: make(map[model.FileID]model.SourceRootID)}
	dup := make(map[model.FileID]bool)

	for i, root := range roots {
		if root == nil {
			return nil, errors.InvalidChange(fmt.Sprintf("source root %d is nil", i))
		}
		rootID := model.SourceRootID(i)
		for _, file := range root.FileIDs() {
			if err := ValidatePath(root.Files[file]); err != nil {
				return nil, errors.InvalidChange(fmt.Sprintf("source root %d, file %d: %v", i, file, err)).
					WithDetail("source_root_id", uint32(rootID)).
					WithDetail("file_id", uint32(file))
			}
			if _, seen := assignment.FileRoots[file]; seen && !dup[file] {
				dup[file] = true
				assignment.Duplicates = append(assignment.Duplicates, file)
			}
			assignment.FileRoots[file] = rootID
		}
	}

	sortFileIDs(assignment.Duplicates)
	return assignment, nil
}

// ValidateCrateGraph validates a crate graph replacement
func (v *Validator) ValidateCrateGraph(g *model.CrateGraph) error {
	if g == nil {
		return errors.InvalidChange("crate graph is nil")
	}
	for _, id := range g.CrateIDs() {
		c, _ := g.Crate(id)
		for _, dep := range c.Dependencies {
			if _, ok := g.Crate(dep.Crate); !ok {
				return errors.InvalidChange(fmt.Sprintf("crate %d depends on unknown crate %d", id, dep.Crate))
			}
		}
	}
	return nil
}

// ValidatePath validates a file path relative to its source root. The
// empty path is allowed for roots built from bare file ids.
func ValidatePath(path string) error {
	if len(path) > MaxPathSize {
		return fmt.Errorf("path exceeds maximum size of %d bytes", MaxPathSize)
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("path %q is not relative", path)
	}
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("path cannot contain null bytes")
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return fmt.Errorf("path %q escapes its root", path)
		}
	}
	return nil
}

func sortFileIDs(ids []model.FileID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
