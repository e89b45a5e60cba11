// Package types defines the shared types used across all HydroChat packages.
//
// These types form the lingua franca between the REST envelope, the tool
// layer, the conversation state, and the graph engine. Each package defines
// its own domain types; cross-cutting data structures live here to avoid
// circular imports.
package types

import "time"

// Patient is the backend wire representation of a patient record.
// ID and User are read-only keys assigned by the backend; they are stripped
// before any write (POST/PUT) payload is built.
type Patient struct {
	// ID is the backend-assigned primary key.
	ID int64 `json:"id,omitempty"`

	// FirstName and LastName are required on create and must survive any
	// update merge.
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`

	// NRIC is the national identifier. Raw values never appear in logs or
	// stored snapshots; see the redact package.
	NRIC string `json:"nric"`

	// DateOfBirth is an optional YYYY-MM-DD date.
	DateOfBirth string `json:"date_of_birth,omitempty"`

	// ContactNo is an optional phone number normalised to digits with an
	// optional leading +country prefix.
	ContactNo string `json:"contact_no,omitempty"`

	// Details is optional free-form clinical context.
	Details string `json:"details,omitempty"`

	// User is the backend-side owner reference. Read-only.
	User int64 `json:"user,omitempty"`
}

// FullName returns "First Last" for display and name resolution.
func (p Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// ScanResult is one wound-scan metadata record as served by the backend,
// ordered server-side by descending creation time.
type ScanResult struct {
	// ID is the backend-assigned scan identifier.
	ID int64 `json:"id"`

	// PatientID references the owning patient.
	PatientID int64 `json:"patient"`

	// CreatedAt is the scan creation instant.
	CreatedAt time.Time `json:"created_at"`

	// VolumeEstimate is the computed wound volume in millilitres. Nil when
	// the processing pipeline has not produced one.
	VolumeEstimate *float64 `json:"volume_estimate,omitempty"`

	// PreviewImageURL is the rendered preview, safe for first-stage display.
	PreviewImageURL string `json:"preview_image,omitempty"`

	// STLFileURL is the 3D mesh download link. Disclosure is gated behind an
	// explicit confirmation; see the scan flow in the graph engine.
	STLFileURL string `json:"stl_file,omitempty"`
}

// ToolRequestSnapshot is the masked record of the last outbound REST request.
// Body is NRIC-masked before the snapshot is built.
type ToolRequestSnapshot struct {
	Method  string `json:"method"`
	URL     string `json:"url"`
	Body    string `json:"body,omitempty"`
	Attempt int    `json:"attempt"`
}

// ToolResponseSnapshot is the masked record of the last REST response.
// Bodies over 3 KB are truncated to 512 characters with Truncated set.
type ToolResponseSnapshot struct {
	Status    int    `json:"status"`
	Body      string `json:"body,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// ToolErrorSnapshot records the last failed REST interaction. Status is zero
// for transport-level failures that never produced a response.
type ToolErrorSnapshot struct {
	Status    int    `json:"status,omitempty"`
	Body      string `json:"body,omitempty"`
	Retryable bool   `json:"retryable"`
}
