package nfo

import (
	"encoding/xml"

	"github.com/bilisync/bilisync/internal/domain"
)

type person struct {
	XMLName xml.Name `xml:"person"`

	Name     string `xml:"name"`
	SortName string `xml:"sorttitle"`
	Thumb    string `xml:"thumb,omitempty"`
}

// EncodePerson renders person.nfo for a publisher, stored alongside
// folder.jpg at {upper_root}/{publisher_id}/ (spec.md §6).
func EncodePerson(p domain.Publisher) ([]byte, error) {
	return marshal(person{
		Name:     p.Name,
		SortName: p.Name,
		Thumb:    "folder.jpg",
	})
}
