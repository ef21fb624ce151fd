package model

import (
	"fmt"
	"net/url"
	"strings"
)

// Entity is one registrant whose evidence is captured
type Entity struct {
	ID          string `json:"id"`                     // Opaque numeric identifier, folder and key namespace
	SourceURL   string `json:"source_url"`             // Canonical navigable URL
	DisplayName string `json:"display_name,omitempty"` // Best-effort label, logging only
}

// NewEntityFromURL builds an entity from a direct address. The id is taken
// from the "id" query parameter.
func NewEntityFromURL(rawURL, displayName string) (Entity, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Entity{}, fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Entity{}, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}

	id := parsed.Query().Get("id")
	if !IsEntityID(id) {
		return Entity{}, fmt.Errorf("url has no numeric id parameter: %s", rawURL)
	}

	if displayName == "" {
		displayName = "entity " + id
	}

	return Entity{
		ID:          id,
		SourceURL:   parsed.String(),
		DisplayName: displayName,
	}, nil
}

// NewEntityFromIDs builds the canonical address base?collectionId=<c>&id=<id>
func NewEntityFromIDs(basePath, id, collectionID, displayName string) (Entity, error) {
	id = strings.TrimSpace(id)
	collectionID = strings.TrimSpace(collectionID)

	if !IsEntityID(id) {
		return Entity{}, fmt.Errorf("invalid entity id %q", id)
	}
	if !IsEntityID(collectionID) {
		return Entity{}, fmt.Errorf("invalid collection id %q", collectionID)
	}

	base, err := url.Parse(basePath)
	if err != nil || base.Host == "" {
		return Entity{}, fmt.Errorf("invalid base path %q", basePath)
	}

	// Parameter order is part of the canonical form, so build the query by hand
	base.RawQuery = "collectionId=" + url.QueryEscape(collectionID) + "&id=" + url.QueryEscape(id)

	if displayName == "" {
		displayName = "entity " + id
	}

	return Entity{
		ID:          id,
		SourceURL:   base.String(),
		DisplayName: displayName,
	}, nil
}

// IsEntityID reports whether s is a non-empty run of ASCII digits
func IsEntityID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
