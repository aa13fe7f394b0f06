package gallery

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// StudentName is the identity parsed from an enrollment photo file name of
// the form firstname_lastname_number.<jpg|png>.
type StudentName struct {
	// Key is the unique student id, the lowercased file stem
	// (e.g. "amit_kumar_1").
	Key string
	// DisplayName is the human-readable name (e.g. "Amit Kumar").
	DisplayName string
	// RollNumber is the trailing number of the file name.
	RollNumber int
}

// ParseStudentKey derives a student identity from an enrollment photo file
// name. The extension, if present, is ignored. It fails for names without a
// name part or without a trailing number.
func ParseStudentKey(fileName string) (StudentName, error) {
	stem := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	stem = strings.ToLower(strings.TrimSpace(stem))

	parts := strings.Split(stem, "_")
	if len(parts) < 2 {
		return StudentName{}, fmt.Errorf("malformed student file name %q: want firstname_lastname_number", fileName)
	}

	roll, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return StudentName{}, fmt.Errorf("malformed student file name %q: trailing part %q is not a number", fileName, parts[len(parts)-1])
	}

	nameParts := parts[:len(parts)-1]
	display := make([]string, 0, len(nameParts))
	for _, p := range nameParts {
		if p == "" {
			return StudentName{}, fmt.Errorf("malformed student file name %q: empty name segment", fileName)
		}
		display = append(display, strings.ToUpper(p[:1])+p[1:])
	}

	return StudentName{
		Key:         stem,
		DisplayName: strings.Join(display, " "),
		RollNumber:  roll,
	}, nil
}
