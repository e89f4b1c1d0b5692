package blob

import (
	"context"
	"fmt"

	"github.com/spherical/lesson-digitizer/internal/domain"
)

// Locator resolves a lesson to its stored PDF.
type Locator struct {
	lessons domain.LessonRepository
	store   Store
}

func NewLocator(lessons domain.LessonRepository, store Store) *Locator {
	return &Locator{lessons: lessons, store: store}
}

// LocatePDF returns the blob key of the lesson's PDF. It fails with a
// validation error when the lesson has no uploaded PDF.
func (l *Locator) LocatePDF(ctx context.Context, lessonID int64) (string, error) {
	lesson, err := l.lessons.GetLesson(ctx, lessonID)
	if err != nil {
		return "", err
	}

	ref := lesson.PDFRef
	if ref == "" {
		ref = PDFKey(lessonID)
	}

	ok, err := l.store.Exists(ctx, ref)
	if err != nil {
		return "", domain.IOError("Failed to check lesson PDF", err)
	}
	if !ok {
		return "", domain.ValidationError(fmt.Sprintf("lesson %d has no uploaded PDF", lessonID), nil)
	}
	return ref, nil
}
