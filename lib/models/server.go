package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Repository struct {
	URL    string `json:"url"`
	Source string `json:"source"`
}

type VersionDetail struct {
	Version  string `json:"version"`
	IsLatest bool   `json:"isLatest"`
}

type Package struct {
	RegistryType string `json:"registryType"`
	Name         string `json:"name"`
	Version      string `json:"version"`
}

func (p Package) String() string {
	return fmt.Sprintf("%s:%s@%s", p.RegistryType, p.Name, p.Version)
}

// Server is one published registry entry. Name is the unique key across the
// whole registry; everything else is tracked content that may change between
// polls. CreatedAt/UpdatedAt are registry metadata and excluded from both the
// snapshot hash and the diff, so a bare timestamp touch upstream never counts
// as a change.
type Server struct {
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Repository    Repository    `json:"repository"`
	VersionDetail VersionDetail `json:"versionDetail"`
	Packages      []Package     `json:"packages,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

type Servers []Server

func (s Server) Version() string {
	return s.VersionDetail.Version
}

// Normalize sorts the package list so that two observations of the same server
// compare equal regardless of the order the registry returned them in.
func (s *Server) Normalize() {
	sort.Slice(s.Packages, func(i, j int) bool {
		a, b := s.Packages[i], s.Packages[j]
		if a.RegistryType != b.RegistryType {
			return a.RegistryType < b.RegistryType
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Version < b.Version
	})
}

// PackagesString flattens the (normalized) package list into a single stable
// string, used for fieldChanges values and for the canonical hash line.
func (s Server) PackagesString() string {
	if len(s.Packages) == 0 {
		return ""
	}
	parts := make([]string, len(s.Packages))
	for i, p := range s.Packages {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}

// canonicalLine encodes every tracked field of a server. The separator is a
// unit separator so that field contents cannot collide with the encoding.
func (s Server) canonicalLine() string {
	return strings.Join([]string{
		s.Name,
		s.Description,
		s.Repository.URL,
		s.Repository.Source,
		s.VersionDetail.Version,
		fmt.Sprintf("%t", s.VersionDetail.IsLatest),
		s.PackagesString(),
	}, "\x1f")
}
