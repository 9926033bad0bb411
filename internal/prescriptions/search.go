package prescriptions

import (
	"fmt"
	"strings"

	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
)

// AllowedStrengths are the dosage choices offered on a search request.
var AllowedStrengths = []string{
	"5mg", "10mg", "20mg", "25mg", "50mg", "100mg", "250mg", "500mg", "1000mg",
	"5ml", "10ml", "15ml", "30ml", "60ml", "120ml",
}

const searchNotePrefix = "Search Request: "

// SearchNote validates a digital search request and renders the notes line
// stored on the prescription.
func SearchNote(medicine, strength string) (string, error) {
	medicine = strings.TrimSpace(medicine)
	strength = strings.ToLower(strings.TrimSpace(strength))
	if medicine == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "medicine is required").
			WithDetails(map[string]string{"medicine": "required"})
	}
	if strength == "" {
		return searchNotePrefix + medicine, nil
	}
	if !allowedStrength(strength) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unsupported strength").
			WithDetails(map[string]any{"strength": strength, "allowed": AllowedStrengths})
	}
	return fmt.Sprintf("%s%s (%s)", searchNotePrefix, medicine, strength), nil
}

func allowedStrength(value string) bool {
	for _, s := range AllowedStrengths {
		if s == value {
			return true
		}
	}
	return false
}
