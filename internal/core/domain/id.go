package domain

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

const (
	recordPrefix  = "prec"
	versionPrefix = "cver"
)

// NewRecordID returns a K-sortable part record id such as "prec_01h2xcejqtf2nbrexx3vqjhp41".
func NewRecordID() string { return newID(recordPrefix) }

// NewVersionID returns an id for a container version.
func NewVersionID() string { return newID(versionPrefix) }

func newID(prefix string) string {
	tid, err := typeid.Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("domain: invalid id prefix %q: %v", prefix, err))
	}
	return tid.String()
}
