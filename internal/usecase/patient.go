package usecase

import (
	"fmt"
	"math/rand"
)

// newPatientID generates a display-only patient token, P plus five zero
// padded digits. It carries no uniqueness guarantee and is regenerated at
// session start and on every reset.
func newPatientID() string {
	return fmt.Sprintf("P%05d", rand.Intn(100000))
}
