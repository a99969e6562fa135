// Package metadata provides storage for cyber range metadata. Per-guest
// specs persist with the libvirt domain itself via custom XML metadata;
// range-level state persists in a JSON index on disk (see store.go).
package metadata

import (
	"encoding/xml"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"gopkg.in/yaml.v3"

	"github.com/cyrange-project/cyrange/api/v1alpha1"
)

const (
	// MetadataNamespace is the XML namespace for cyrange guest metadata.
	// This follows the pattern used by Kubernetes and other tools.
	MetadataNamespace = "http://cyrange.cofront.xyz/v1alpha1"

	// MetadataKey is the key used to store/retrieve metadata from libvirt.
	MetadataKey = "cyrange-guest-spec"
)

// domainMetadataClient is the narrow libvirt surface the domain-metadata
// helpers need. Satisfied by *libvirt.Libvirt; tests supply a mock, the
// same narrow-interface pattern the rest of this repository uses.
type domainMetadataClient interface {
	DomainSetMetadata(dom libvirt.Domain, typ int32, metadata libvirt.OptString, key libvirt.OptString, uri libvirt.OptString, flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error)
}

// GuestMetadata is the XML structure for storing Guest data in libvirt.
// The spec is stored as YAML text for easy human readability when inspecting
// the domain XML directly.
type GuestMetadata struct {
	XMLName xml.Name `xml:"metadata"`
	Xmlns   string   `xml:"xmlns,attr"`
	// SpecYAML contains the Guest spec serialized as YAML
	SpecYAML string `xml:",innerxml"`
}

// StoreDomainMetadata saves a Guest spec to libvirt domain metadata, so it persists with
// the domain itself.
func StoreDomainMetadata(l domainMetadataClient, domain libvirt.Domain, guest *v1alpha1.Guest) error {
	yamlData, err := yaml.Marshal(guest)
	if err != nil {
		return fmt.Errorf("failed to marshal guest spec to YAML: %w", err)
	}

	metadata := GuestMetadata{
		Xmlns:    MetadataNamespace,
		SpecYAML: string(yamlData),
	}

	xmlData, err := xml.MarshalIndent(metadata, "  ", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata to XML: %w", err)
	}

	err = l.DomainSetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement), // Type: custom XML element
		libvirt.OptString{string(xmlData)},
		libvirt.OptString{MetadataKey}, // Key for our metadata
		libvirt.OptString{MetadataNamespace},
		libvirt.DomainModificationImpact(0), // flags: replace
	)
	if err != nil {
		return fmt.Errorf("failed to set libvirt domain metadata: %w", err)
	}

	return nil
}

// LoadDomainMetadata retrieves the Guest spec from libvirt domain metadata.
func LoadDomainMetadata(l domainMetadataClient, domain libvirt.Domain) (*v1alpha1.Guest, error) {
	xmlStr, err := l.DomainGetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{MetadataNamespace},
		libvirt.DomainModificationImpact(0), // flags
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get libvirt domain metadata: %w", err)
	}

	var metadata GuestMetadata
	if err := xml.Unmarshal([]byte(xmlStr), &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata XML: %w", err)
	}

	var guest v1alpha1.Guest
	if err := yaml.Unmarshal([]byte(metadata.SpecYAML), &guest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal guest spec from YAML: %w", err)
	}

	return &guest, nil
}

// UpdateDomainMetadata updates the stored metadata for an existing guest domain.
func UpdateDomainMetadata(l domainMetadataClient, domain libvirt.Domain, guest *v1alpha1.Guest) error {
	guest.Generation++

	return StoreDomainMetadata(l, domain, guest)
}

// DeleteDomainMetadata removes cyrange metadata from a domain. Typically called during
// guest destruction cleanup.
func DeleteDomainMetadata(l domainMetadataClient, domain libvirt.Domain) error {
	// Setting empty string with flags=1 removes the metadata
	err := l.DomainSetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{""}, // empty string removes metadata
		libvirt.OptString{MetadataKey},
		libvirt.OptString{MetadataNamespace},
		libvirt.DomainModificationImpact(1), // flags: remove
	)
	if err != nil {
		return fmt.Errorf("failed to delete libvirt domain metadata: %w", err)
	}

	return nil
}

// DomainMetadataExists checks if cyrange metadata exists for a domain.
func DomainMetadataExists(l domainMetadataClient, domain libvirt.Domain) bool {
	_, err := l.DomainGetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{MetadataNamespace},
		libvirt.DomainModificationImpact(0),
	)
	return err == nil
}
