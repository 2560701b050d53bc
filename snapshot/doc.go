// Package snapshot exports the registry as CSV files plus metadata.json and
// restores it from a local archive, a GitHub repository or plain URLs.
package snapshot
