// Package archive streams closed changesets to long-term storage
// sinks: an HTTP NDJSON endpoint (Vector or similar) and a
// ClickHouse table. Both sinks are optional and batch writes.
package archive

import "time"

// Record is a single archived changeset.
type Record struct {
	ID           int64     `json:"id" ch:"id"`
	User         string    `json:"user" ch:"user"`
	ChangesCount int64     `json:"changes_count" ch:"changes_count"`
	CreatedAt    time.Time `json:"created_at" ch:"created_at"`
	ClosedAt     time.Time `json:"closed_at" ch:"closed_at"`
	CountryCode  string    `json:"country_code,omitempty" ch:"country_code"`
	Comment      string    `json:"comment,omitempty" ch:"comment"`
	Hashtags     []string  `json:"hashtags,omitempty" ch:"hashtags"`
	ReceivedAt   time.Time `json:"received_at" ch:"received_at"`

	MetaClientName string `json:"meta_client_name,omitempty" ch:"meta_client_name"`
}
