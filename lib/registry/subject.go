package registry

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidSubject = errors.New("invalid subject id")

// SubjectID is the 8 digit registration number of a trading company.
type SubjectID string

func (id SubjectID) String() string {
	return string(id)
}

var checksumWeights = [8]int{1, 2, 1, 2, 1, 2, 4, 1}

// ParseSubjectID trims the input and validates it with the weighted checksum
// used by the registry.
func ParseSubjectID(raw string) (SubjectID, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 8 {
		return "", fmt.Errorf("%w: '%s' must have exactly 8 digits", ErrInvalidSubject, raw)
	}

	sum := 0
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c < '0' || c > '9' {
			return "", fmt.Errorf("%w: '%s' contains a non-digit character", ErrInvalidSubject, raw)
		}
		product := int(c-'0') * checksumWeights[i]
		if product >= 10 {
			product = product/10 + product%10
		}
		sum += product
	}

	if sum%10 == 0 {
		return SubjectID(raw), nil
	}
	// a 7 in the 7th position folds to 10, which may be read as either 1 or 0
	if raw[6] == '7' && (sum+1)%10 == 0 {
		return SubjectID(raw), nil
	}
	return "", fmt.Errorf("%w: '%s' fails checksum", ErrInvalidSubject, raw)
}

func IsValidSubjectID(raw string) bool {
	_, err := ParseSubjectID(raw)
	return err == nil
}
